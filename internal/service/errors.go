package service

import "errors"

// 业务错误，handler 用 errors.Is 映射到 HTTP 状态码
var (
	ErrNotFound          = errors.New("记录不存在")
	ErrSelfPurchase      = errors.New("不能购买自己发布的商品")
	ErrMalformedCallback = errors.New("回调参数不完整")
	ErrUnknownStatus     = errors.New("未知的回调状态")
	ErrForbidden         = errors.New("无权查看该交易")
	ErrInvalidSignature  = errors.New("回调签名校验失败")
)
