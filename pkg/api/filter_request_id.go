package api

import (
	"strconv"
	"sync/atomic"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"

	"github.com/google/uuid"
)

const (
	FilterTypeRequestID = "RequestIDFilter"

	HeaderRequestID = "X-Request-Id"
)

// RequestIDFilter tags each request with an id and a request-scoped logger.
// A well-formed id supplied by the caller is kept.
type RequestIDFilter struct {
	counter atomic.Uint64
	prefix  string
}

func NewRequestIDFilter() *RequestIDFilter {
	return &RequestIDFilter{
		prefix: uuid.New().String()[0:8],
	}
}

func (f *RequestIDFilter) Run(d *Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	id := d.Req.Header.Get(HeaderRequestID)
	if id == "" || len(id) > 128 {
		id = f.generateRequestID()
	}
	d.RequestID = id
	d.Req.Header.Set(HeaderRequestID, id)
	d.ResponseWriter.Header().Set(HeaderRequestID, id)

	l := logger.Ctx(d.Ctx).With().Str("request_id", id).Logger()
	d.Ctx = logger.WithLogger(d.Ctx, &l)
	return Next{}, nil
}

func (f *RequestIDFilter) generateRequestID() string {
	return f.prefix + strconv.FormatUint(f.counter.Add(1), 10)
}

func (f *RequestIDFilter) Type() string {
	return FilterTypeRequestID
}
