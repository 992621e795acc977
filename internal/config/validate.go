// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/netSkope/ldif-export-tool/internal/dn"
	"github.com/netSkope/ldif-export-tool/internal/mapping"
	"github.com/netSkope/ldif-export-tool/internal/transform"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("ldapattr", func(fl validator.FieldLevel) bool {
			return mapping.ValidAttributeName(fl.Field().String())
		})
		_ = v.RegisterValidation("dntemplate", func(fl validator.FieldLevel) bool {
			_, err := dn.Compile(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("transform", func(fl validator.FieldLevel) bool {
			_, ok := transform.Lookup(fl.Field().String())
			return ok
		})
		validate = v
	})
	return validate
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var problems []string

	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if c.DNTemplate != "" {
		if _, err := dn.Compile(c.DNTemplate); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(c.AttributeMapping) > 0 {
		if _, err := mapping.New(c.AttributeMapping.Rules()...); err != nil {
			problems = append(problems, "attribute_mapping: "+err.Error())
		}
	}

	switch c.Output.Type {
	case "s3":
		if c.Output.S3.Bucket == "" {
			problems = append(problems, "output.s3.bucket is required for s3 output")
		}
	case "file":
		if c.Output.Path == "" {
			problems = append(problems, "output.path is required for file output")
		}
	}
	if c.Source.Type == "mysql" {
		if c.Source.MySQL.Host == "" {
			problems = append(problems, "source.mysql.host is required for mysql source")
		}
		if c.Source.MySQL.Table == "" {
			problems = append(problems, "source.mysql.table is required for mysql source")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "ldapattr":
		return fmt.Sprintf("%s: invalid LDAP attribute name %q", field, fe.Value())
	case "dntemplate":
		return fmt.Sprintf("%s: invalid DN template %q", field, fe.Value())
	case "transform":
		return fmt.Sprintf("%s: unknown transform %q (known: %s)", field, fe.Value(), strings.Join(transform.Names(), ", "))
	default:
		return fmt.Sprintf("%s failed %s=%s (value %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
