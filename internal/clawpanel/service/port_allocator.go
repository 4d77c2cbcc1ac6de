package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/clawpanel/clawpanel/internal/clawpanel/repository"
)

// BasePort 网关端口分配的起点
const BasePort = 18800

// PortAllocator 逻辑端口分配器
// 以持久化的实例记录为准，分配不小于 BasePort 的最小空闲端口
// 互斥锁只保护同进程内的并发分配
type PortAllocator struct {
	mu        sync.Mutex
	base      int
	instances repository.InstanceRepository
}

// NewPortAllocator 创建端口分配器
func NewPortAllocator(instances repository.InstanceRepository) *PortAllocator {
	return &PortAllocator{
		base:      BasePort,
		instances: instances,
	}
}

// Allocate 分配一个空闲端口
func (a *PortAllocator) Allocate(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.instances.List(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list instances for port allocation: %w", err)
	}

	used := make(map[int]struct{}, len(all))
	for _, inst := range all {
		used[inst.Port] = struct{}{}
	}

	for port := a.base; ; port++ {
		if _, taken := used[port]; !taken {
			return port, nil
		}
	}
}
