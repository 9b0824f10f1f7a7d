package gateway

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"go.pilab.hu/standhub/domain"
	"go.pilab.hu/standhub/internal/audit"
	"go.pilab.hu/standhub/internal/metrics"
)

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	UserID    string `json:"userId"`
}

type reserveRequest struct {
	ServiceType domain.ServiceType `json:"serviceType"`
	Amount      int                `json:"amount"`
}

type resolveRequest struct {
	ReservationID string `json:"reservationId"`
	ResultURL     string `json:"resultUrl"`
	Reason        string `json:"reason"`
}

type ssoCreateRequest struct {
	TargetDomain string `json:"targetDomain"`
}

type ssoCreateResponse struct {
	SSOToken  string `json:"ssoToken"`
	ExpiresAt int64  `json:"expiresAt"`
}

type ssoVerifyRequest struct {
	SSOToken string `json:"ssoToken"`
}

type generationRequest struct {
	ReservationID string             `json:"reservationId"`
	ServiceType   domain.ServiceType `json:"serviceType"`
	ResultURL     string             `json:"resultUrl"`
}

func (s *Server) registerRoutes(e *echo.Echo) {
	auth := requireSession(s.issuer)

	e.POST("/refresh-auth-token", s.handleRefresh, auth)
	e.POST("/get-user-balance", s.handleBalance, auth)
	e.POST("/reserve-tokens", s.handleReserve, auth)
	e.POST("/commit-reservation", s.handleCommit, auth)
	e.POST("/rollback-reservation", s.handleRollback, auth)
	e.POST("/record-generation", s.handleRecordGeneration, auth)
	e.POST("/create-sso-token", s.handleCreateSSO, auth)
	e.POST("/verify-sso-token", s.handleVerifySSO)
	e.POST("/logout", s.handleLogout, auth)
	e.GET("/audit-tokens", s.handleAudit, auth)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler(s.gatherer)))
	}
}

func (s *Server) handleRefresh(c echo.Context) error {
	token, _ := c.Get(tokenKey).(string)
	next, expiresAt, userID, err := s.issuer.Refresh(token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid or expired token"})
	}
	log.Info().Str("user_id", userID).Msg("Session token refreshed")
	return c.JSON(http.StatusOK, sessionResponse{Token: next, ExpiresAt: expiresAt.UnixMilli(), UserID: userID})
}

func (s *Server) handleBalance(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ledger.Balance(claimsFrom(c).Subject))
}

func (s *Server) handleReserve(c echo.Context) error {
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ReserveResult{Error: "malformed request body"})
	}

	userID := claimsFrom(c).Subject
	result, err := s.ledger.Reserve(userID, req.ServiceType, req.Amount)
	if err != nil {
		s.metrics.Reservation("reserve", metrics.OutcomeFailure)
		s.audit.Record(audit.ActionReserve, userID, "", false, err)
		return c.JSON(http.StatusBadRequest, domain.ReserveResult{Error: err.Error()})
	}
	outcome := metrics.OutcomeSuccess
	if !result.Success {
		outcome = metrics.OutcomeRejected
	}
	s.metrics.Reservation("reserve", outcome)
	s.audit.Log(audit.Event{
		Action:  audit.ActionReserve,
		User:    userID,
		Target:  result.ReservationID,
		Amount:  req.Amount,
		Details: string(req.ServiceType),
		Success: result.Success,
		Error:   result.Error,
	})
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleCommit(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil || req.ReservationID == "" {
		return c.JSON(http.StatusBadRequest, domain.ResolveResult{Error: "reservationId is required"})
	}
	userID := claimsFrom(c).Subject
	result, err := s.ledger.Commit(userID, req.ReservationID, req.ResultURL)
	s.audit.Record(audit.ActionCommit, userID, req.ReservationID, err == nil, err)
	return s.resolved(c, "commit", result, err)
}

func (s *Server) handleRollback(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil || req.ReservationID == "" {
		return c.JSON(http.StatusBadRequest, domain.ResolveResult{Error: "reservationId is required"})
	}
	userID := claimsFrom(c).Subject
	result, err := s.ledger.Rollback(userID, req.ReservationID, req.Reason)
	s.audit.Record(audit.ActionRollback, userID, req.ReservationID, err == nil, err)
	return s.resolved(c, "rollback", result, err)
}

func (s *Server) resolved(c echo.Context, operation string, result domain.ResolveResult, err error) error {
	switch {
	case err == nil:
		s.metrics.Reservation(operation, metrics.OutcomeSuccess)
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, ErrAlreadyResolved):
		s.metrics.Reservation(operation, metrics.OutcomeRejected)
		return c.JSON(http.StatusConflict, result)
	case errors.Is(err, ErrReservationNotFound):
		s.metrics.Reservation(operation, metrics.OutcomeRejected)
		return c.JSON(http.StatusNotFound, result)
	default:
		s.metrics.Reservation(operation, metrics.OutcomeFailure)
		log.Error().Err(err).Str("operation", operation).Msg("Failed to resolve reservation")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) handleRecordGeneration(c echo.Context) error {
	var req generationRequest
	if err := c.Bind(&req); err != nil || req.ReservationID == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "reservationId is required"})
	}
	g := s.ledger.RecordGeneration(claimsFrom(c).Subject, req.ReservationID, req.ServiceType, req.ResultURL)
	return c.JSON(http.StatusCreated, g)
}

func (s *Server) handleCreateSSO(c echo.Context) error {
	var req ssoCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}
	userID := claimsFrom(c).Subject
	token, expiresAt, err := s.exchange.Create(userID, req.TargetDomain)
	s.audit.Record(audit.ActionSSOCreate, userID, req.TargetDomain, err == nil, err)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, ssoCreateResponse{SSOToken: token, ExpiresAt: expiresAt.UnixMilli()})
}

func (s *Server) handleVerifySSO(c echo.Context) error {
	var req ssoVerifyRequest
	if err := c.Bind(&req); err != nil || req.SSOToken == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "ssoToken is required"})
	}
	grant, err := s.exchange.Redeem(req.SSOToken)
	if err != nil {
		s.audit.Record(audit.ActionSSORedeem, "", "", false, err)
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "sso token invalid or already used"})
	}
	token, expiresAt, err := s.issuer.Issue(grant.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue session for sso exchange")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
	log.Info().Str("user_id", grant.UserID).Str("target_domain", grant.TargetDomain).Msg("SSO token redeemed")
	s.audit.Record(audit.ActionSSORedeem, grant.UserID, grant.TargetDomain, true, nil)
	return c.JSON(http.StatusOK, sessionResponse{Token: token, ExpiresAt: expiresAt.UnixMilli(), UserID: grant.UserID})
}

func (s *Server) handleLogout(c echo.Context) error {
	claims := claimsFrom(c)
	s.issuer.Revoke(claims)
	log.Info().Str("user_id", claims.Subject).Msg("Session revoked")
	s.audit.Record(audit.ActionLogout, claims.Subject, "", true, nil)
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAudit(c echo.Context) error {
	report := s.ledger.Audit()
	if !report.Clean() {
		log.Warn().
			Int("stale_reservations", len(report.StaleReservations)).
			Int("orphaned_generations", len(report.OrphanedGenerations)).
			Msg("Reservation audit found defects")
	}
	return c.JSON(http.StatusOK, report)
}
