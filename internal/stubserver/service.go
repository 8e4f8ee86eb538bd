package stubserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/kingrea/borrowease-verify/internal/phone"
)

const codeLength = 6

// Failure is a refusal the handlers turn into an HTTP status and message.
type Failure struct {
	Status  int
	Message string
	// AttemptsLeft is reported on wrong codes.
	AttemptsLeft *int
}

func (f *Failure) Error() string { return f.Message }

var (
	ErrInvalidPhone = &Failure{Status: http.StatusBadRequest, Message: "Invalid phone number"}
	ErrInvalidCode  = &Failure{Status: http.StatusBadRequest, Message: "OTP must be 6 digits"}
	ErrNoCode       = &Failure{Status: http.StatusGone, Message: "OTP not found or expired"}
	ErrExpired      = &Failure{Status: http.StatusGone, Message: "OTP expired"}
	ErrTooSoon      = &Failure{Status: http.StatusTooManyRequests, Message: "Please wait before requesting another OTP"}
	ErrLocked       = &Failure{Status: http.StatusTooManyRequests, Message: "Too many attempts. Please wait before trying again."}
)

func wrongCode(left int) *Failure {
	return &Failure{Status: http.StatusBadRequest, Message: "Invalid OTP", AttemptsLeft: &left}
}

// Delivery hands a freshly issued code to the user.
type Delivery interface {
	Deliver(ctx context.Context, phone, code string) error
}

// LogDelivery writes the code to the process log. Development only.
type LogDelivery struct {
	Logger *logrus.Logger
}

func (d LogDelivery) Deliver(_ context.Context, number, code string) error {
	if d.Logger == nil {
		return nil
	}
	d.Logger.WithFields(logrus.Fields{
		"phone": number,
		"otp":   code,
	}).Info("OTP generated (logged for development)")
	return nil
}

// Service issues and checks codes against a Store.
type Service struct {
	settings Settings
	store    Store
	delivery Delivery
	clock    func() time.Time
	codes    func() (string, error)
	logger   *logrus.Logger
	locks    phoneLocks
}

func newService(settings Settings, store Store, delivery Delivery, clock func() time.Time, codes func() (string, error), logger *logrus.Logger) *Service {
	return &Service{
		settings: settings,
		store:    store,
		delivery: delivery,
		clock:    clock,
		codes:    codes,
		logger:   logger,
	}
}

// Send issues a new code. With keepAttempts the wrong-code count of an
// existing record carries over, which is what a resend does.
func (s *Service) Send(ctx context.Context, number string, keepAttempts bool) (time.Duration, error) {
	if !validPhone(number) {
		return 0, ErrInvalidPhone
	}
	defer s.locks.lock(number)()
	now := s.clock()
	rec, found, err := s.store.Get(ctx, number)
	if err != nil {
		return 0, err
	}
	if found {
		if now.Before(rec.LockedUntil) {
			return 0, ErrLocked
		}
		if now.Before(rec.SentAt.Add(s.settings.SendCooldown)) {
			return 0, ErrTooSoon
		}
	}
	code, err := s.codes()
	if err != nil {
		return 0, fmt.Errorf("stubserver: generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("stubserver: hash code: %w", err)
	}
	next := Record{
		Phone:     number,
		CodeHash:  string(hash),
		SentAt:    now,
		ExpiresAt: now.Add(s.settings.CodeTTL),
	}
	if found && keepAttempts && now.Before(rec.ExpiresAt) {
		next.Attempts = rec.Attempts
	}
	if err := s.store.Put(ctx, next); err != nil {
		return 0, err
	}
	if err := s.delivery.Deliver(ctx, number, code); err != nil {
		return 0, fmt.Errorf("stubserver: deliver code: %w", err)
	}
	return s.settings.CodeTTL, nil
}

// Verify checks code for number. The record is removed on success; the
// last wrong attempt locks the number.
func (s *Service) Verify(ctx context.Context, number, code string) error {
	if !validPhone(number) {
		return ErrInvalidPhone
	}
	if !validCode(code) {
		return ErrInvalidCode
	}
	defer s.locks.lock(number)()
	now := s.clock()
	rec, found, err := s.store.Get(ctx, number)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoCode
	}
	if now.Before(rec.LockedUntil) {
		return ErrLocked
	}
	if rec.CodeHash == "" {
		return ErrNoCode
	}
	if !now.Before(rec.ExpiresAt) {
		_ = s.store.Delete(ctx, number)
		return ErrExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
		rec.Attempts++
		left := s.settings.MaxAttempts - rec.Attempts
		if left <= 0 {
			left = 0
			rec.CodeHash = ""
			rec.LockedUntil = now.Add(s.settings.LockDuration)
			s.logger.WithField("phone", phone.Mask(number)).Warn("Number locked after too many wrong codes")
		}
		if err := s.store.Put(ctx, rec); err != nil {
			return err
		}
		return wrongCode(left)
	}
	return s.store.Delete(ctx, number)
}

// phoneLocks hands out one mutex per number so each Send or Verify sees
// the record the previous one wrote. Entries are dropped once unused.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until number is free and returns the matching unlock.
func (p *phoneLocks) lock(number string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = map[string]*phoneLock{}
	}
	l, ok := p.locks[number]
	if !ok {
		l = &phoneLock{}
		p.locks[number] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, number)
		}
		p.mu.Unlock()
	}
}

func validPhone(number string) bool {
	if len(number) < 2 || number[0] != '+' {
		return false
	}
	digits := number[1:]
	if len(digits) < 8 || len(digits) > 18 {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

func validCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func randomCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

// asFailure unwraps a *Failure from err.
func asFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
