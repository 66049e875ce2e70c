//go:build cgo

package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// SessionPool hands out logged-in sessions for one module and slot.
// Sessions are returned with the release func from Acquire and reused.
type SessionPool struct {
	mu        sync.Mutex
	ctx       *pkcs11.Ctx
	module    string
	slotID    uint
	pin       string
	available []pkcs11.SessionHandle
	inUse     map[pkcs11.SessionHandle]bool
	loggedIn  bool
	closed    bool
}

var (
	pools   = make(map[string]*SessionPool)
	poolsMu sync.Mutex
)

func poolKey(modulePath string, slotID uint) string {
	return fmt.Sprintf("%s:%d", modulePath, slotID)
}

// GetSessionPool returns the shared pool for (modulePath, slotID),
// initializing the module on first use.
func GetSessionPool(modulePath string, slotID uint, pin string) (*SessionPool, error) {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	key := poolKey(modulePath, slotID)
	if pool, ok := pools[key]; ok {
		pool.mu.Lock()
		closed := pool.closed
		pool.mu.Unlock()
		if !closed {
			return pool, nil
		}
		delete(pools, key)
	}

	ctx, err := initModule(modulePath)
	if err != nil {
		return nil, err
	}

	pool := &SessionPool{
		ctx:    ctx,
		module: modulePath,
		slotID: slotID,
		pin:    pin,
		inUse:  make(map[pkcs11.SessionHandle]bool),
	}
	pools[key] = pool
	return pool, nil
}

func initModule(modulePath string) (*pkcs11.Ctx, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		var p11err pkcs11.Error
		if !errors.As(err, &p11err) || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
		}
	}
	return ctx, nil
}

// Context returns the module context.
func (p *SessionPool) Context() *pkcs11.Ctx {
	return p.ctx
}

// Acquire reserves a session. The returned func must be called to give it
// back.
func (p *SessionPool) Acquire() (pkcs11.SessionHandle, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, errors.New("session pool is closed")
	}

	var session pkcs11.SessionHandle
	if n := len(p.available); n > 0 {
		session = p.available[n-1]
		p.available = p.available[:n-1]
	} else {
		var err error
		session, err = p.ctx.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to open session: %w", err)
		}
		// Login state is per token, not per session.
		if p.pin != "" && !p.loggedIn {
			if err := p.ctx.Login(session, pkcs11.CKU_USER, p.pin); err != nil {
				var p11err pkcs11.Error
				if !errors.As(err, &p11err) || p11err != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
					_ = p.ctx.CloseSession(session)
					return 0, nil, fmt.Errorf("failed to login: %w", err)
				}
			}
			p.loggedIn = true
		}
	}
	p.inUse[session] = true

	release := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.inUse, session)
		if p.closed {
			_ = p.ctx.CloseSession(session)
			return
		}
		p.available = append(p.available, session)
	}
	return session, release, nil
}

// Close logs out, closes every session and finalizes the module.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.loggedIn && len(p.available) > 0 {
		if err := p.ctx.Logout(p.available[0]); err != nil {
			var p11err pkcs11.Error
			if !errors.As(err, &p11err) || p11err != pkcs11.CKR_USER_NOT_LOGGED_IN {
				errs = append(errs, fmt.Errorf("logout: %w", err))
			}
		}
	}
	for _, session := range p.available {
		if err := p.ctx.CloseSession(session); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	p.available = nil
	if err := p.ctx.Finalize(); err != nil {
		var p11err pkcs11.Error
		if !errors.As(err, &p11err) || p11err != pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED {
			errs = append(errs, fmt.Errorf("finalize: %w", err))
		}
	}
	p.ctx.Destroy()

	poolsMu.Lock()
	delete(pools, poolKey(p.module, p.slotID))
	poolsMu.Unlock()

	return errors.Join(errs...)
}

// CloseAllPools closes every open pool. Call it once at exit.
func CloseAllPools() {
	poolsMu.Lock()
	open := make([]*SessionPool, 0, len(pools))
	for _, pool := range pools {
		open = append(open, pool)
	}
	poolsMu.Unlock()

	for _, pool := range open {
		_ = pool.Close()
	}
}
