package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"

	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleNetworks handles GET /api/v1/networks[?chainId=<id>]
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("chainId")
	var chainID uint64
	if filter != "" {
		id, err := cast.ToUint64E(filter)
		if err != nil {
			s.writeError(w, rerrors.NewValidationError("", fmt.Sprintf("invalid chainId %q", filter)))
			return
		}
		chainID = id
	}

	views := make([]NetworkView, 0)
	for _, n := range s.node.Networks() {
		if filter != "" && n.ChainID != chainID {
			continue
		}
		views = append(views, s.networkView(n))
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{Data: views})
}

// handleNetwork handles GET /api/v1/networks/{chainId}
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["chainId"]
	chainID, err := cast.ToUint64E(raw)
	if err != nil {
		s.writeError(w, rerrors.NewValidationError("", fmt.Sprintf("invalid chainId %q", raw)))
		return
	}
	for _, n := range s.node.Networks() {
		if n.ChainID == chainID {
			s.writeJSON(w, http.StatusOK, QueryResponse{Data: s.networkView(n)})
			return
		}
	}
	s.writeError(w, rerrors.NewNotFoundError(fmt.Sprintf("network %d is not supported", chainID)))
}

func (s *Server) networkView(n *network.Network) NetworkView {
	view := NetworkView{
		Name:             n.Name,
		ChainID:          n.ChainID,
		RecoveryModule:   n.RecoveryModule.Hex(),
		ExecuteRecovery:  sponsorshipView(n.Execute),
		FinalizeRecovery: sponsorshipView(n.Finalize),
		GuardianEnabled:  n.GuardianEnabled(),
		AlertsEnabled:    n.AlertGroup != "",
		GasPriceStrategy: n.GasStrategy,
		Indexer:          IndexerView{Enabled: n.IndexerEnabled},
	}
	if checkpoint, failed, ok := s.node.IndexerStatus(n.ChainID); ok {
		view.Indexer.Checkpoint = checkpoint
		for _, fr := range failed {
			view.Indexer.FailedRanges = append(view.Indexer.FailedRanges, FailedRangeView{
				FromBlock:  fr.FromBlock,
				ToBlock:    fr.ToBlock,
				RetryCount: fr.RetryCount,
			})
		}
	}
	return view
}

func sponsorshipView(p network.SponsorshipPolicy) SponsorshipView {
	view := SponsorshipView{Enabled: p.Enabled, Signer: p.SignerID}
	if p.RateLimit != nil {
		view.RateLimit = &RateLimitView{
			MaxPerAccount: p.RateLimit.MaxPerAccount,
			PeriodSeconds: int64(p.RateLimit.Period.Seconds()),
		}
	}
	return view
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	public := rerrors.Public(err, s.production)
	s.writeJSON(w, public.Status, ErrorResponse{Code: string(public.Code), Message: public.Message, Detail: public.Detail})
}
