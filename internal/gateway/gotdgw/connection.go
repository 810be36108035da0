// ConnTracker — трекер состояния MTProto‑соединения, один экземпляр на клиент
// gotdgw. Он предоставляет координационный слой для остального кода:
//   - WaitOnline(ctx) — блокирует до восстановления связи, если клиент офлайн;
//   - MarkConnected/MarkDisconnected — явные переходы между состояниями;
//   - мониторинг с периодическими RPC-вызовами и детекцией сетевых сбоев;
//   - безопасная остановка и «генерационный» канал ожидания для снятия гонок.
//
// Трекер потокобезопасен: взаимодействие с ожидателями ведётся через снимки
// wait‑канала, а сетевые ошибки нормализуются через HandleError. В отличие от
// исходного менеджера, это не глобальный синглтон — каждый Client владеет
// своим ConnTracker.
package gotdgw

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chatarchiver/internal/infra/logger"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"
)

const (
	// reconnectPingInterval определяет период, с которым выполняются легковесные RPC-вызовы
	// при ожидании восстановления соединения.
	reconnectPingInterval = 10 * time.Second
	// reconnectPingTimeout задает максимальное время ожидания ответа на RPC-вызов.
	reconnectPingTimeout = 5 * time.Second
)

// ConnTracker хранит ссылку на клиент, текущее состояние online/offline и
// «поколенческий» канал ожидания восстановления (waitCh). Когда связь
// теряется, создаётся новый открытый канал и стартует monitorLoop; при
// восстановлении канал закрывается, что неблокирующим образом снимает всех
// ожидателей. Доступ к полям защищён мьютексами, признак online хранится в
// atomic.Bool.
type ConnTracker struct {
	client *telegram.Client
	ctx    context.Context

	connected atomic.Bool

	mu            sync.RWMutex
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
}

// NewConnTracker создаёт трекер в состоянии online: ожидатели не должны
// блокироваться «на ровном месте» до первого разрыва связи.
func NewConnTracker(ctx context.Context, client *telegram.Client) *ConnTracker {
	t := &ConnTracker{
		client: client,
		ctx:    ctx,
	}

	t.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	t.waitCh = ready

	return t
}

// MarkConnected переводит состояние в online, останавливает мониторинг
// и закрывает текущий wait‑канал, разблокируя всех ожидателей. Идемпотентен.
func (t *ConnTracker) MarkConnected() {
	if t == nil {
		return
	}
	if t.connected.Swap(true) {
		return
	}

	t.mu.Lock()
	if t.monitorCancel != nil {
		t.monitorCancel()
		t.monitorCancel = nil
	}
	ch := t.waitCh
	if ch == nil {
		ch = make(chan struct{})
		t.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	t.mu.Unlock()

	logger.Info("ConnTracker: connection restored")
}

// MarkDisconnected переводит состояние в offline. Идемпотентен: если уже
// офлайн — ничего не делает. Создаёт новое «поколение» wait‑канала и
// запускает мониторинг восстановления (monitorLoop).
func (t *ConnTracker) MarkDisconnected() {
	if t == nil {
		return
	}
	if !t.connected.CompareAndSwap(true, false) {
		return
	}

	t.mu.Lock()
	if t.monitorCancel != nil {
		t.monitorCancel()
		t.monitorCancel = nil
	}
	t.waitCh = make(chan struct{})
	monitorCtx, cancel := context.WithCancel(t.ctx)
	t.monitorCancel = cancel
	t.mu.Unlock()

	logger.Debug("ConnTracker: connection lost, waiting for restore")
	go t.monitorLoop(monitorCtx)
}

// WaitOnline блокирует вызывающую горутину до восстановления соединения или
// отмены контекста. Если уже online, возвращает сразу.
func (t *ConnTracker) WaitOnline(ctx context.Context) {
	if t == nil || ctx == nil || ctx.Err() != nil {
		return
	}

	if t.connected.Load() {
		return
	}

	callerLocation := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		if wd, err := os.Getwd(); err == nil {
			if rel, relErr := filepath.Rel(wd, file); relErr == nil {
				file = rel
			}
		}
		callerLocation = file + ":" + strconv.Itoa(line)
	}

	logger.Debugf("WaitOnline: blocking caller: %s", callerLocation)

	for {
		ch := t.currentWaitCh()
		select {
		case <-ctx.Done():
			logger.Debugf("WaitOnline: context done before reconnect: %v", ctx.Err())
			return
		case <-ch:
			if ch == t.currentWaitCh() {
				logger.Debug("WaitOnline: connection restored, resuming")
				return
			}
		}
	}
}

// HandleError анализирует ошибку err, полученную из RPC-слоя. Если ошибка
// напоминает сетевую и свидетельствует о разрыве соединения, трекер
// переводится в offline, а функция возвращает true.
func (t *ConnTracker) HandleError(err error) bool {
	if t == nil || !isNetworkError(err) {
		return false
	}
	t.MarkDisconnected()
	return true
}

// Shutdown мягко останавливает мониторинг и закрывает канал ожидания,
// гарантируя, что все заблокированные ожидатели проснутся и корректно
// завершатся.
func (t *ConnTracker) Shutdown() {
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.monitorCancel != nil {
		t.monitorCancel()
		t.monitorCancel = nil
	}
	wait := t.waitCh
	t.waitCh = nil
	t.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		default:
			close(wait)
		}
	}
}

func (t *ConnTracker) currentWaitCh() <-chan struct{} {
	t.mu.RLock()
	ch := t.waitCh
	t.mu.RUnlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

// monitorLoop с периодом reconnectPingInterval пытается выполнить RPC-вызов.
// При успехе трекер переводится в online и цикл завершается. Нечёткие
// сетевые ошибки логируются, контекстная отмена завершает цикл без шума.
func (t *ConnTracker) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectPingInterval)
	defer ticker.Stop()

	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		attempt++
		start := time.Now()

		client := t.client
		if client == nil {
			logger.Debugf("ConnTracker: client is nil, waiting for reconnect (attempt=%d)", attempt)
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, reconnectPingTimeout)
			err := t.safeRPCClient(pingCtx, client)
			cancel()

			if err == nil {
				logger.Debugf("ConnTracker: RPC call ok (attempt=%d, duration=%v)", attempt, time.Since(start))
				t.MarkConnected()
				return
			}

			switch {
			case errors.Is(err, net.ErrClosed), errors.Is(err, pool.ErrConnDead), errors.Is(err, rpc.ErrEngineClosed):
				logger.Debugf("ConnTracker: RPC call aborted, connection closed (attempt=%d, duration=%v): %v", attempt, time.Since(start), err)
			case !isNetworkError(err):
				logger.Errorf("ConnTracker: RPC call failed (attempt=%d, duration=%v): %v", attempt, time.Since(start), err)
			default:
				logger.Debugf("ConnTracker: RPC call failed (attempt=%d, duration=%v): %v", attempt, time.Since(start), err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeRPCClient оборачивает легковесный RPC-вызов (Self) защитой от паник
// и переводит их в сетевую ошибку (net.ErrClosed). Self() проверяет, что
// MTProto-клиент полностью готов к работе, а не просто отвечает на пинг.
func (t *ConnTracker) safeRPCClient(ctx context.Context, client *telegram.Client) (err error) {
	if client == nil {
		return net.ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("ConnTracker: RPC call panic recovered: %v", r)
			err = net.ErrClosed
		}
	}()

	_, err = client.Self(ctx)
	return err
}

// isNetworkError определяет, сигнализирует ли ошибка о сетевой проблеме или
// разрыве. Контекстные отмены не считаются сетевыми.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) {
		return true
	}
	if errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
