package entity

// GatewayStatusRequest 聚合查询网关状态请求
type GatewayStatusRequest struct {
	InstanceID string `form:"instance_id" binding:"required"`
}

// GatewayActionRequest 网关操作请求，POST /api/gateway 的统一入口
type GatewayActionRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
	Action     string `json:"action"      binding:"required"` // list-devices, approve-device, get-whatsapp-qr, run-doctor, check-health, list-channels, execute
	Command    string `json:"command,omitempty"`               // execute 动作的命令
	RequestID  string `json:"request_id,omitempty"`            // approve-device 动作的配对请求 ID
}

// GatewayStatusResponse 聚合的网关状态
// 每个子项独立采集，单项失败置 nil 并通过对应的 *OK 标记区分
type GatewayStatusResponse struct {
	InstanceID string `json:"instance_id"`
	Reachable  bool   `json:"reachable"` // fly CLI 通道是否可用

	Health         *HealthReport   `json:"health"`
	Doctor         *DoctorReport   `json:"doctor"`
	Channels       []ChannelStatus `json:"channels"`
	PendingDevices []PendingDevice `json:"pending_devices"`

	HealthOK   bool `json:"health_ok"`   // Health 字段是否采集成功
	DoctorOK   bool `json:"doctor_ok"`   // Doctor 字段是否采集成功
	ChannelsOK bool `json:"channels_ok"` // Channels 字段是否采集成功
	DevicesOK  bool `json:"devices_ok"`  // PendingDevices 字段是否采集成功
}

// HealthReport 网关自检结果
type HealthReport struct {
	Status  string         `json:"status"` // healthy, unhealthy, unknown
	Detail  map[string]any `json:"detail,omitempty"`
	Healthy bool           `json:"healthy"`
}

// DoctorReport 网关诊断结果
type DoctorReport struct {
	OK       bool     `json:"ok"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Raw      string   `json:"raw,omitempty"` // 无法解析时保留原始输出
}

// ChannelStatus 单个消息渠道的连接状态
type ChannelStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // connected, disconnected, pending...
	Connected bool   `json:"connected"`
}

// PendingDevice 等待批准的设备配对请求
type PendingDevice struct {
	RequestID  string `json:"request_id"`
	Channel    string `json:"channel"`
	Identifier string `json:"identifier"` // 设备侧标识，如手机号
	Timestamp  string `json:"timestamp"`
}

// ListPendingDevicesResponse 列出待批准设备响应
type ListPendingDevicesResponse struct {
	InstanceID string          `json:"instance_id"`
	Devices    []PendingDevice `json:"devices"`
}

// ApproveDeviceResponse 批准设备配对响应
type ApproveDeviceResponse struct {
	InstanceID string `json:"instance_id"`
	RequestID  string `json:"request_id"`
	Approved   bool   `json:"approved"`
	Output     string `json:"output,omitempty"`
}

// WhatsAppQRResponse 获取 WhatsApp 配对二维码响应
// QRCode 为空表示日志里暂时没有二维码，不算错误
type WhatsAppQRResponse struct {
	InstanceID string `json:"instance_id"`
	QRCode     string `json:"qr_code"`
	Found      bool   `json:"found"`
}

// ExecuteCommandResponse 透传网关 CLI 命令响应
type ExecuteCommandResponse struct {
	InstanceID string `json:"instance_id"`
	Command    string `json:"command"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr,omitempty"`
}
