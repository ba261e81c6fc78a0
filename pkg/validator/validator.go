package validator

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var hexDataRe = regexp.MustCompile(`^0x([0-9a-fA-F]{2})*$`)

// Init 在 gin 默认校验器上注册自定义规则
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("hexdata", validateHexData)
	}
}

// hexdata: 0x 前缀、偶数长度的十六进制字节串
func validateHexData(fl validator.FieldLevel) bool {
	return hexDataRe.MatchString(fl.Field().String())
}

// GetErrorMsgs 把校验错误翻译成逐字段的提示
func GetErrorMsgs(err error) []string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{"请求参数错误: " + err.Error()}
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s 不能为空", field))
		case "eth_addr":
			msgs = append(msgs, fmt.Sprintf("%s 不是合法的以太坊地址", field))
		case "hexdata":
			msgs = append(msgs, fmt.Sprintf("%s 必须是 0x 开头的十六进制数据", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s 长度至少为 %s", field, e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s 长度不能超过 %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s 校验失败 (%s)", field, e.Tag()))
		}
	}
	return msgs
}
