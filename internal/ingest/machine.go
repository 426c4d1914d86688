package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// 连接状态常量
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

// 事件常量
const (
	eventDial       = "dial"
	eventOpen       = "open"
	eventCleanClose = "clean_close"
	eventLost       = "connection_lost"
	eventRetry      = "retry"
	eventGiveUp     = "give_up"
)

// connMachine 连接状态机
// disconnected -> connecting -> connected -> (disconnected | reconnecting)
// -> connecting -> ... ; reconnecting -> disconnected once retries are spent.
type connMachine struct {
	mu  sync.RWMutex
	fsm *fsm.FSM

	onChange func(from, to string)
}

func newConnMachine(onChange func(from, to string)) *connMachine {
	m := &connMachine{onChange: onChange}

	m.fsm = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventOpen, Src: []string{StateConnecting}, Dst: StateConnected},

			// 主动断开，任何状态都可以
			{Name: eventCleanClose, Src: []string{StateConnecting, StateConnected, StateReconnecting}, Dst: StateDisconnected},

			// 意外断开或拨号失败
			{Name: eventLost, Src: []string{StateConnecting, StateConnected}, Dst: StateReconnecting},

			{Name: eventRetry, Src: []string{StateReconnecting}, Dst: StateConnecting},
			{Name: eventGiveUp, Src: []string{StateReconnecting}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onChange != nil && e.Src != e.Dst {
					m.onChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Current 当前状态
func (m *connMachine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Trigger 触发事件
func (m *connMachine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

// Is 检查当前状态
func (m *connMachine) Is(state string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current() == state
}
