package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/skechum/internal/auth"
	"github.com/digkill/skechum/internal/export"
	"github.com/digkill/skechum/internal/service"
)

func identity(r *http.Request) *auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			s.log.Error("health check: database", "err", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "database": "down"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Generation.Generate(r.Context(), identity(r).UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"status":          res.Status,
		"image":           res.Image,
		"generation_time": res.GenerationTime,
		"credits":         res.Balance,
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req service.ProbeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	img, err := s.deps.Generation.Probe(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": img.URL, "format": img.Format})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	balance, err := s.deps.Credits.Balance(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": id.UserID,
		"email":   id.Email,
		"credits": balance,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.deps.Credits.Balance(r.Context(), identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": balance})
}

func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	var req service.DeductRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.deps.Credits.Deduct(r.Context(), identity(r).UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": entry.BalanceAfter, "log": entry})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req service.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.deps.Credits.Refund(r.Context(), identity(r).UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": entry.BalanceAfter, "log": entry})
}

func (s *Server) handleCreditLogs(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	logs, err := s.deps.Credits.Logs(r.Context(), identity(r).UserID, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": logs, "page": page.Page, "limit": page.Limit})
}

func (s *Server) handleCreditExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.deps.Credits.Export(r.Context(), identity(r).UserID, &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	name := export.FileName(time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "plans": plans})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var in service.CheckoutInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	id := identity(r)
	sess, err := s.deps.Payments.CreateCheckout(r.Context(), id.UserID, id.Email, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "checkout_id": sess.ID, "url": sess.URL})
}

func (s *Server) handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	var req service.ConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Payments.Confirm(r.Context(), identity(r).UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"payment":       res.Payment,
		"credits_added": res.CreditsAdded,
		"credits":       res.Balance,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.deps.Payments.HandleWebhook(r.Context(), payload, r.Header); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Gallery.Explore(r.Context(), listQuery(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Gallery.History(r.Context(), identity(r).UserID, listQuery(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func listQuery(r *http.Request) service.ListQuery {
	q := r.URL.Query()
	return service.ListQuery{
		Page:  pageFromQuery(r),
		Style: q.Get("style"),
		Query: q.Get("q"),
	}
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.deps.Gallery.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, img)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := s.deps.Gallery.Download(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, dl.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Data)
}
