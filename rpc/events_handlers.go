package rpc

import (
	"net/http"

	"zkledger/storage/eventstore"
)

type eventsListResult struct {
	Events []eventstore.Entry `json:"events"`
	Next   uint64             `json:"next"`
}

func (s *Server) handleEventsList(r *http.Request, req *RPCRequest) (interface{}, error) {
	if s.events == nil {
		return nil, invalidParams("event journal not configured", nil)
	}
	var query eventstore.Query
	if err := decodeParams(req, &query); err != nil {
		return nil, err
	}
	entries, err := s.events.List(r.Context(), query)
	if err != nil {
		return nil, err
	}
	result := eventsListResult{Events: entries, Next: query.AfterSeq}
	if len(entries) > 0 {
		result.Next = entries[len(entries)-1].Seq
	}
	return result, nil
}
