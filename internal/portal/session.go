package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
)

// Config holds portal connection settings.
type Config struct {
	LoginURL     string
	OrderFormURL string
	Username     string
	Password     string
	// LocateTimeout bounds each selector candidate independently.
	LocateTimeout time.Duration
	// ActionTimeout bounds fill/click/navigate primitives.
	ActionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LocateTimeout <= 0 {
		c.LocateTimeout = 5 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 20 * time.Second
	}
	return c
}

// Session owns one browser-automation context for one portal order. It is
// created per attempt and never shared across orders.
type Session struct {
	id        string
	driver    Driver
	selectors SelectorSet
	config    Config
	artifacts *ArtifactStore
	logger    *zap.Logger

	cleanupOnce sync.Once
}

// NewSession binds a driver to the portal configuration.
func NewSession(driver Driver, selectors SelectorSet, cfg Config, artifacts *ArtifactStore, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:        uuid.New().String(),
		driver:    driver,
		selectors: selectors,
		config:    cfg.withDefaults(),
		artifacts: artifacts,
		logger:    logger,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Locate tries each candidate selector in order with an independent
// timeout, returning the first that matches. Portal markup varies across
// releases; a single brittle selector is not acceptable.
func (s *Session) Locate(ctx context.Context, field Field) (string, error) {
	candidates := s.selectors.Candidates(field)
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates configured for %s", ErrElementNotFound, field)
	}

	for _, candidate := range candidates {
		waitCtx, cancel := context.WithTimeout(ctx, s.config.LocateTimeout)
		err := s.driver.WaitVisible(waitCtx, candidate)
		cancel()
		if err == nil {
			return candidate, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrTransientNavigation, field, ctx.Err())
		}
		s.logger.Debug("selector candidate missed",
			zap.String("field", string(field)),
			zap.String("candidate", candidate))
	}
	return "", fmt.Errorf("%w: %s after %d candidates", ErrElementNotFound, field, len(candidates))
}

// Fill locates a field and sets its value.
func (s *Session) Fill(ctx context.Context, field Field, value string) error {
	selector, err := s.Locate(ctx, field)
	if err != nil {
		return err
	}
	actionCtx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()
	if err := s.driver.Fill(actionCtx, selector, value); err != nil {
		return fmt.Errorf("%w: fill %s: %v", ErrTransientNavigation, field, err)
	}
	return nil
}

// Click locates a field and clicks it.
func (s *Session) Click(ctx context.Context, field Field) error {
	selector, err := s.Locate(ctx, field)
	if err != nil {
		return err
	}
	actionCtx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()
	if err := s.driver.Click(actionCtx, selector); err != nil {
		return fmt.Errorf("%w: click %s: %v", ErrTransientNavigation, field, err)
	}
	return nil
}

// Screenshot captures the current page into the artifact store and returns
// the artifact reference. It is callable at any point, including error
// paths, and never aborts the session: a capture failure returns an empty
// reference.
func (s *Session) Screenshot(ctx context.Context, label string) string {
	actionCtx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()

	data, err := s.driver.Screenshot(actionCtx)
	if err != nil {
		s.logger.Warn("screenshot capture failed",
			zap.String("session_id", s.id),
			zap.String("label", label),
			zap.Error(err))
		return ""
	}

	ref := fmt.Sprintf("%s-%s.png", label, uuid.New().String()[:8])
	if s.artifacts != nil {
		s.artifacts.Put(ref, data)
	}
	return ref
}

// Login authenticates against the portal. A rejected credential page is
// fatal; anything else that keeps the dashboard from appearing is
// transient.
func (s *Session) Login(ctx context.Context) error {
	if err := s.navigate(ctx, s.config.LoginURL); err != nil {
		return err
	}
	if err := s.Fill(ctx, FieldLoginUsername, s.config.Username); err != nil {
		return err
	}
	if err := s.Fill(ctx, FieldLoginPassword, s.config.Password); err != nil {
		return err
	}
	if err := s.Click(ctx, FieldLoginSubmit); err != nil {
		return err
	}

	// The error banner renders faster than the dashboard; probe it first
	// with a single candidate pass.
	if _, err := s.Locate(ctx, FieldLoginError); err == nil {
		return fmt.Errorf("%w: portal rejected credentials for %s",
			ErrAuthenticationFailed, s.config.Username)
	}

	if _, err := s.Locate(ctx, FieldDashboard); err != nil {
		if errors.Is(err, ErrElementNotFound) {
			return fmt.Errorf("%w: dashboard did not render after login", ErrTransientNavigation)
		}
		return err
	}
	return nil
}

// NavigateToOrderForm opens the order-entry form.
func (s *Session) NavigateToOrderForm(ctx context.Context) error {
	if err := s.navigate(ctx, s.config.OrderFormURL); err != nil {
		return err
	}
	if _, err := s.Locate(ctx, FieldOrderFormMarker); err != nil {
		return err
	}
	return nil
}

// FillOrderForm enters the full order into the form.
func (s *Session) FillOrderForm(ctx context.Context, snap order.Snapshot) error {
	patient := snap.Patient
	fills := []struct {
		field Field
		value string
	}{
		{FieldPatientFirst, patient.FirstName},
		{FieldPatientLast, patient.LastName},
		{FieldPatientDOB, patient.DateOfBirth},
		{FieldPatientMemberID, patient.MemberID},
		{FieldPatientStreet, patient.Street},
		{FieldPatientCity, patient.City},
		{FieldPatientState, patient.State},
		{FieldPatientZip, patient.PostalCode},
		{FieldPatientPhone, patient.Phone},
		{FieldProviderNPI, snap.ProviderNPI},
		{FieldDiagnosisCodes, strings.Join(snap.Diagnoses, ",")},
	}
	for _, f := range fills {
		if f.value == "" {
			continue
		}
		if err := s.Fill(ctx, f.field, f.value); err != nil {
			return err
		}
	}

	for _, test := range snap.Tests {
		if err := s.Fill(ctx, FieldTestSearch, test.Code); err != nil {
			return err
		}
		if err := s.Click(ctx, FieldTestAdd); err != nil {
			return err
		}
	}

	if snap.Instructions != "" {
		if err := s.Fill(ctx, FieldInstructions, snap.Instructions); err != nil {
			return err
		}
	}
	return nil
}

// OpenReview advances the form to the portal's review page.
func (s *Session) OpenReview(ctx context.Context) error {
	return s.Click(ctx, FieldReviewButton)
}

// Submit performs the final submission and reads the portal's confirmation
// identifier.
func (s *Session) Submit(ctx context.Context) (string, error) {
	if err := s.Click(ctx, FieldSubmitButton); err != nil {
		return "", err
	}
	selector, err := s.Locate(ctx, FieldConfirmationID)
	if err != nil {
		return "", err
	}

	actionCtx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()
	text, err := s.driver.Text(actionCtx, selector)
	if err != nil {
		return "", fmt.Errorf("%w: read confirmation id: %v", ErrTransientNavigation, err)
	}
	return strings.TrimSpace(text), nil
}

// Cleanup releases the automation resource. Idempotent and safe from error
// handling paths.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		if err := s.driver.Close(); err != nil {
			s.logger.Warn("session cleanup failed",
				zap.String("session_id", s.id),
				zap.Error(err))
		}
	})
}

func (s *Session) navigate(ctx context.Context, url string) error {
	actionCtx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()
	if err := s.driver.Navigate(actionCtx, url); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", ErrTransientNavigation, url, err)
	}
	return nil
}
