package openclaw

import (
	"encoding/json"
	"regexp"
	"strings"
)

// PendingDevice 等待审批的设备配对请求
type PendingDevice struct {
	RequestID  string `json:"request_id"`
	Channel    string `json:"channel"`
	Identifier string `json:"identifier"`
	Timestamp  string `json:"timestamp"`
}

// ParsePendingDevices 解析 devices list 的输出
// 优先按 JSON 解析（数组或 {"devices": [...]} 包裹均可）
// JSON 失败时退回逐行解析：每遇到新的 "Request ID:" 行开始一条新记录
func ParsePendingDevices(output string) []PendingDevice {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return []PendingDevice{}
	}

	// JSON 路径
	var devices []PendingDevice
	if err := json.Unmarshal([]byte(trimmed), &devices); err == nil {
		return devices
	}
	var wrapped struct {
		Devices []PendingDevice `json:"devices"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && wrapped.Devices != nil {
		return wrapped.Devices
	}

	// 文本回退路径
	return parsePendingDevicesText(output)
}

// parsePendingDevicesText 逐行扫描固定标签，新 Request ID 行触发前一条记录入列
func parsePendingDevicesText(output string) []PendingDevice {
	devices := []PendingDevice{}
	var current *PendingDevice

	flush := func() {
		if current != nil && current.RequestID != "" {
			devices = append(devices, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Request ID:"):
			flush()
			current = &PendingDevice{
				RequestID: strings.TrimSpace(strings.TrimPrefix(line, "Request ID:")),
			}
		case strings.HasPrefix(line, "Channel:"):
			if current != nil {
				current.Channel = strings.TrimSpace(strings.TrimPrefix(line, "Channel:"))
			}
		case strings.HasPrefix(line, "Identifier:"):
			if current != nil {
				current.Identifier = strings.TrimSpace(strings.TrimPrefix(line, "Identifier:"))
			}
		case strings.HasPrefix(line, "Timestamp:"):
			if current != nil {
				current.Timestamp = strings.TrimSpace(strings.TrimPrefix(line, "Timestamp:"))
			}
		}
	}
	flush()

	return devices
}

// qrBlockPattern 匹配终端渲染的二维码块：连续多行的块状字符
var qrBlockPattern = regexp.MustCompile(`(?m)((?:^[ \t]*[█▄▀▌▐░▒▓][█▄▀▌▐░▒▓ ]{7,}\n?){4,})`)

// ExtractQRCode 从日志输出中提取第一个二维码块
// 只扫描包含 "QR Code" 提示之后的内容，没有匹配时返回空串
func ExtractQRCode(logs string) string {
	idx := strings.Index(logs, "QR Code")
	if idx < 0 {
		return ""
	}

	match := qrBlockPattern.FindString(logs[idx:])
	return strings.TrimRight(match, "\n")
}

// DoctorReport openclaw doctor 的诊断结果
type DoctorReport struct {
	OK       bool     `json:"ok"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
	Raw      string   `json:"raw,omitempty"`
}

// ParseDoctorOutput 解析 doctor 输出
// JSON 失败时按行分类：含 error/issue 的行记为问题，含 warn 的行记为警告
func ParseDoctorOutput(output string) *DoctorReport {
	trimmed := strings.TrimSpace(output)

	var report DoctorReport
	if err := json.Unmarshal([]byte(trimmed), &report); err == nil {
		if report.Issues == nil {
			report.Issues = []string{}
		}
		if report.Warnings == nil {
			report.Warnings = []string{}
		}
		return &report
	}

	report = DoctorReport{
		Issues:   []string{},
		Warnings: []string{},
		Raw:      trimmed,
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "issue"):
			report.Issues = append(report.Issues, line)
		case strings.Contains(lower, "warn"):
			report.Warnings = append(report.Warnings, line)
		}
	}
	report.OK = len(report.Issues) == 0
	return &report
}

// HealthStatus 网关健康状态
type HealthStatus struct {
	Status string         `json:"status"` // healthy / unhealthy / unknown
	Detail map[string]any `json:"detail,omitempty"`
}

// ParseHealthOutput 解析 health 输出
// JSON 对象直接透传，解析失败时按文本内容粗分类
func ParseHealthOutput(output string) *HealthStatus {
	trimmed := strings.TrimSpace(output)

	var detail map[string]any
	if err := json.Unmarshal([]byte(trimmed), &detail); err == nil {
		status := "healthy"
		if s, ok := detail["status"].(string); ok && s != "" {
			status = strings.ToLower(s)
		}
		return &HealthStatus{Status: status, Detail: detail}
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "healthy") || strings.Contains(lower, "ok"):
		return &HealthStatus{Status: "healthy"}
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return &HealthStatus{Status: "unhealthy"}
	default:
		return &HealthStatus{Status: "unknown"}
	}
}

// ChannelStatus 消息通道的连接状态
type ChannelStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ParseChannelsOutput 解析 channels status 输出
// JSON 失败时按 "name: status" 行解析，两种都失败返回空列表
func ParseChannelsOutput(output string) []ChannelStatus {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return []ChannelStatus{}
	}

	var channels []ChannelStatus
	if err := json.Unmarshal([]byte(trimmed), &channels); err == nil {
		return channels
	}
	var wrapped struct {
		Channels []ChannelStatus `json:"channels"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && wrapped.Channels != nil {
		return wrapped.Channels
	}

	channels = []ChannelStatus{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		name, status, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		status = strings.TrimSpace(status)
		if name == "" || status == "" || strings.Contains(name, " ") {
			continue
		}
		channels = append(channels, ChannelStatus{Name: name, Status: status})
	}
	return channels
}
