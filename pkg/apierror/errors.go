package apierror

// ClawPanel 预定义错误
// 错误码分为三类：凭证/配置错误、云平台 API 错误、内部错误
var (
	// ErrMissingCredential 缺少必需的 API 凭证
	// 在客户端构造时立即返回，消息中必须指明缺少的环境变量以及获取方式
	ErrMissingCredential = &Error{
		Code:       "MissingCredential",
		Message:    "A required provider credential is not configured.",
		HTTPStatus: 500,
	}

	// ErrProviderAPI 云平台 API 返回非 2xx 响应
	// 包装时附带 HTTP 状态码和原始响应体
	ErrProviderAPI = &Error{
		Code:       "ProviderAPIError",
		Message:    "The cloud provider API returned an error response.",
		HTTPStatus: 502,
	}

	// ErrWaitTimeout 等待资源到达目标状态超时
	ErrWaitTimeout = &Error{
		Code:       "WaitTimeout",
		Message:    "Timed out waiting for the resource to reach the target state.",
		HTTPStatus: 504,
	}

	// ErrResourceFailed 资源进入了已知的终态失败状态（failed/destroyed/build_failed 等）
	ErrResourceFailed = &Error{
		Code:       "ResourceFailed",
		Message:    "The resource entered a terminal failure state.",
		HTTPStatus: 502,
	}

	// ErrMissingIdentifiers 实例缺少云平台资源标识
	// stop/start/restart/logs/health 在 containerId 或 containerName 为空时返回
	ErrMissingIdentifiers = &Error{
		Code:       "MissingIdentifiers",
		Message:    "Instance has no provider identifiers. It may still be deploying or a previous deployment failed before the resource was created.",
		HTTPStatus: 409,
	}

	// ErrInstanceExists 用户已有活跃实例，一个用户同时只能有一个
	ErrInstanceExists = &Error{
		Code:       "InstanceAlreadyExists",
		Message:    "The user already has an active instance. Delete it before deploying a new one.",
		HTTPStatus: 409,
	}

	// ErrInstanceNotFound 实例不存在
	ErrInstanceNotFound = &Error{
		Code:       "InstanceNotFound",
		Message:    "No instance found for the given id.",
		HTTPStatus: 404,
	}

	// ErrCommandRejected 命令不在允许的前缀列表中
	ErrCommandRejected = &Error{
		Code:       "CommandRejected",
		Message:    "The command is not in the allowed command list.",
		HTTPStatus: 403,
	}

	// ErrCommandFailed 网关 CLI 命令执行失败（非零退出或超时）
	ErrCommandFailed = &Error{
		Code:       "CommandFailed",
		Message:    "The gateway command exited with an error.",
		HTTPStatus: 502,
	}

	// ErrInvalidParameter 请求参数无效
	ErrInvalidParameter = &Error{
		Code:       "InvalidParameter",
		Message:    "A request parameter is missing or invalid.",
		HTTPStatus: 400,
	}

	// ErrInternalError 发生了内部错误
	ErrInternalError = &Error{
		Code:       "InternalError",
		Message:    "An internal error has occurred. Retry your request, but if the problem persists, contact support with details.",
		HTTPStatus: 500,
	}
)
