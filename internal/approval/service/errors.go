package service

import (
	"errors"
)

// 审核流程错误分类，handler据此映射响应码
var (
	// ErrInvalidArgument 请求参数缺失或非法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConfigNotFound 审核配置不存在或未启用
	ErrConfigNotFound = errors.New("approval config not found")
	// ErrRequestNotFound 审核申请不存在
	ErrRequestNotFound = errors.New("approval request not found")
	// ErrNodeNotFound 当前节点索引超出快照范围
	ErrNodeNotFound = errors.New("approval node not found")
	// ErrInvalidState 申请状态不允许该操作
	ErrInvalidState = errors.New("request status does not allow this action")
	// ErrForbidden 操作人无权审核当前节点
	ErrForbidden = errors.New("actor not allowed to decide this node")
	// ErrAlreadyDecided 同一轮同一节点已由该审核人处理过
	ErrAlreadyDecided = errors.New("node already decided by this approver")
	// ErrConcurrentModification 乐观锁竞争失败，调用方可安全重试
	ErrConcurrentModification = errors.New("request was modified concurrently")
	// ErrExecutionFailed 终审通过但业务执行失败，申请保持approved并带失败标记
	ErrExecutionFailed = errors.New("business execution failed after approval")
)
