package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/julienschmidt/httprouter"
	"github.com/lockforge/lockd/internal/core/domain"
	lockderrors "github.com/lockforge/lockd/pkg/errors"
)

const (
	CallerHeader = "X-Caller"

	maxBodySize = 1 << 20
)

// parseCaller returns the zero address if the header is missing, the
// service rejects it wherever an identity is required.
func parseCaller(r *http.Request) (common.Address, error) {
	caller := strings.TrimSpace(r.Header.Get(CallerHeader))
	if caller == "" {
		return common.Address{}, nil
	}
	return parseAddress(caller)
}

func parseAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, lockderrors.INVALID_ADDRESS.New("invalid address %q", addr).
			WithMetadata(lockderrors.AddressMetadata{Address: addr})
	}
	return common.HexToAddress(addr), nil
}

// parseOptionalAddress maps an empty string to the zero address.
func parseOptionalAddress(addr string) (common.Address, error) {
	if addr == "" {
		return common.Address{}, nil
	}
	return parseAddress(addr)
}

func parseAmount(amount string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(amount)
	if err != nil {
		return nil, lockderrors.INVALID_AMOUNT.New("invalid amount %q: %s", amount, err).
			WithMetadata(lockderrors.AmountMetadata{Amount: amount})
	}
	return v, nil
}

func parseTokenAmounts(tokens []tokenAmount) ([]domain.TokenAmount, error) {
	list := make([]domain.TokenAmount, 0, len(tokens))
	for _, t := range tokens {
		token, err := parseAddress(t.Token)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(t.Amount)
		if err != nil {
			return nil, err
		}
		list = append(list, domain.TokenAmount{Token: token, Amount: amount})
	}
	return list, nil
}

func parseUint64Path(r *http.Request, name string) (uint64, error) {
	raw := httprouter.ParamsFromContext(r.Context()).ByName(name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, lockderrors.INVALID_REQUEST.New("invalid %s %q", name, raw).
			WithMetadata(map[string]any{"field": name})
	}
	return v, nil
}

func parseUint32Path(r *http.Request, name string) (uint32, error) {
	raw := httprouter.ParamsFromContext(r.Context()).ByName(name)
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, lockderrors.INVALID_REQUEST.New("invalid %s %q", name, raw).
			WithMetadata(map[string]any{"field": name})
	}
	return uint32(v), nil
}

// parseUint32Query returns nil if the query param is missing.
func parseUint32Query(r *http.Request, name string) (*uint32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, lockderrors.INVALID_REQUEST.New("invalid %s %q", name, raw).
			WithMetadata(map[string]any{"field": name})
	}
	value := uint32(v)
	return &value, nil
}

func parseRequiredUint32Query(r *http.Request, name string) (uint32, error) {
	v, err := parseUint32Query(r, name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, lockderrors.INVALID_REQUEST.New("missing %s", name).
			WithMetadata(map[string]any{"field": name})
	}
	return *v, nil
}

// parseEpochs parses a comma separated list of epochs.
func parseEpochs(r *http.Request) ([]uint32, error) {
	raw := r.URL.Query().Get("epochs")
	if raw == "" {
		return nil, lockderrors.INVALID_REQUEST.New("missing epochs").
			WithMetadata(map[string]any{"field": "epochs"})
	}
	parts := strings.Split(raw, ",")
	epochs := make([]uint32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, lockderrors.INVALID_REQUEST.New("invalid epoch %q", part).
				WithMetadata(map[string]any{"field": "epochs"})
		}
		epochs = append(epochs, uint32(v))
	}
	return epochs, nil
}

// decodeBody accepts an empty body, leaving dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return lockderrors.INVALID_REQUEST.New("invalid request body: %s", err)
	}
	return nil
}
