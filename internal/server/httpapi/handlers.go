package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/server/services"
	"github.com/go-chi/chi/v5"
)

type profileResponse struct {
	ID            string    `json:"id"`
	OSFTokenValid bool      `json:"osfTokenValid"`
	Experiments   []string  `json:"experiments"`
	CreatedAt     time.Time `json:"createdAt"`
}

type osfTokenRequest struct {
	Token string `json:"token"`
}

type createExperimentRequest struct {
	Title               string `json:"title"`
	OSFProjectReference string `json:"osfProjectReference"`
	OSFComponentName    string `json:"osfComponentName"`
}

func (s *HTTPServer) healthz(w http.ResponseWriter, r *http.Request) error {
	respondJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return newHTTPError(http.StatusBadRequest, fmt.Sprintf("%s: invalid JSON body", msgBadRequest), err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return newHTTPError(http.StatusBadRequest, fmt.Sprintf("%s: trailing data after JSON body", msgBadRequest), err)
	}
	return nil
}

// currentUser returns the id authenticate stored on the request.
func currentUser(r *http.Request) (string, error) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		return "", common.ErrorUnauthorized
	}
	return userID, nil
}

func (s *HTTPServer) getProfile(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	u, err := s.users.Profile(r.Context(), userID)
	if err != nil {
		return err
	}

	respondJSON(w, http.StatusOK, profileResponse{
		ID:            u.ID,
		OSFTokenValid: u.OSFTokenValid,
		Experiments:   u.Experiments,
		CreatedAt:     u.CreatedAt,
	})
	return nil
}

func (s *HTTPServer) connectOSF(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	var req osfTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	if _, err := s.users.ConnectOSF(r.Context(), userID, req.Token); err != nil {
		if errors.Is(err, common.ErrOSFUnauthorized) {
			return newHTTPError(http.StatusUnprocessableEntity, "OSF rejected the token", err)
		}
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *HTTPServer) disconnectOSF(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	if err := s.users.DisconnectOSF(r.Context(), userID); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *HTTPServer) listExperiments(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	list, err := s.experiments.ListExperiments(r.Context(), userID)
	if err != nil {
		return err
	}

	respondJSON(w, http.StatusOK, list)
	return nil
}

func (s *HTTPServer) getExperiment(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	exp, err := s.experiments.GetExperiment(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	respondJSON(w, http.StatusOK, exp)
	return nil
}

// createExperiment is gated on a connected, valid OSF account.
func (s *HTTPServer) createExperiment(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	var req createExperimentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	profile, err := s.users.Profile(r.Context(), userID)
	if err != nil {
		return err
	}
	if !profile.OSFTokenValid {
		return common.ErrOSFNotConnected
	}

	exp, err := s.experiments.CreateExperiment(r.Context(), userID, services.CreateExperimentInput{
		Title:               req.Title,
		OSFProjectReference: req.OSFProjectReference,
		OSFComponentName:    req.OSFComponentName,
		IdempotencyKey:      r.Header.Get(common.IdempotencyKeyHeaderName),
	})
	if err != nil {
		return err
	}

	w.Header().Set("Location", "/api/experiments/"+exp.ID)
	respondJSON(w, http.StatusCreated, exp)
	return nil
}
