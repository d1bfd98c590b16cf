// Package validate 注册请求参数使用的自定义校验规则
package validate

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+?[\d\-\s]+$`)

// IsPhone 电话号码只允许数字、空格、连字符和开头的加号
func IsPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// RegisterRules 向validator注册自定义规则
// 目前只有phone，供注册、资料和病人登记请求使用
func RegisterRules(v *validator.Validate) error {
	return v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return IsPhone(fl.Field().String())
	})
}
