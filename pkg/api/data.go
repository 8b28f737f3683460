package api

import (
	"context"
	"net/http"
)

// Data carries one request through the filter chain and into its handler.
type Data struct {
	Ctx            context.Context
	Req            *http.Request
	ResponseWriter http.ResponseWriter

	RequestID string

	// Subject is the client id proven by a bearer token; empty when
	// authentication is disabled.
	Subject string
}

func NewData(ctx context.Context, w http.ResponseWriter, req *http.Request) *Data {
	return &Data{
		Ctx:            ctx,
		Req:            req,
		ResponseWriter: w,
	}
}
