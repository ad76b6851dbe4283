package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator 返回单例，validator 会缓存结构体元信息。
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// validateStruct 只报告第一个失败字段，文案直接返回给客户端。
func validateStruct(v interface{}) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return validationError("invalid input")
	}
	fe := ves[0]
	switch fe.Tag() {
	case "required":
		return validationError(fmt.Sprintf("%s is required", fe.Field()))
	case "max":
		return validationError(fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	case "min":
		return validationError(fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
	case "url":
		return validationError(fmt.Sprintf("%s must be a valid URL", fe.Field()))
	case "oneof":
		return validationError(fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
	}
	return validationError(fmt.Sprintf("%s is invalid", fe.Field()))
}
