package api

import (
	"net/http"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ledger.Balance())
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PackageID     string `json:"package_id"`
		TransactionID string `json:"transaction_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.deps.Ledger.Credit(req.PackageID, req.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": p, "balance": s.deps.Ledger.Balance()})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Email == "" {
		writeError(w, badRequest("email is required"))
		return
	}
	b, err := s.deps.Ledger.SetEmail(req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Amount == 0 || req.Reason == "" {
		writeError(w, badRequest("amount and reason are required"))
		return
	}
	b, err := s.deps.Ledger.AdminAdjust(req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": s.deps.Ledger.Packages()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage":     s.deps.Ledger.UsageHistory(limit),
		"purchases": s.deps.Ledger.PurchaseHistory(limit),
	})
}
