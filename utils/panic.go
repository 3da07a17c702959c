package utils

import (
	"github.com/vuuvv/vdissect/log"
)

func NormalRecover() {
	if r := recover(); r != nil {
		log.Error(r)
	}
}

// Catch 必须直接 defer 调用, recover 才能生效
func Catch(handler func(reason any)) {
	if r := recover(); r != nil {
		log.Warn(r)
		handler(r)
	}
}
