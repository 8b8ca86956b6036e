package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	lockderrors "github.com/lockforge/lockd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// WriteError replies with the HTTP status matching the error's gRPC code
// and the error details. Untyped errors are reported as INTERNAL_ERROR.
func WriteError(w http.ResponseWriter, err error) {
	var typed lockderrors.Error
	if !errors.As(err, &typed) {
		typed = lockderrors.INTERNAL_ERROR.Wrap(err)
	}
	if typed.Code() == lockderrors.INTERNAL_ERROR.Code {
		typed.Log().Error(typed.Error())
	}

	writeJSON(w, runtime.HTTPStatusFromCode(typed.GrpcCode()), errorResponse{
		Code:     typed.Code(),
		Name:     typed.CodeName(),
		Message:  typed.Error(),
		Metadata: typed.Metadata(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeOK(w http.ResponseWriter, body any) {
	writeJSON(w, http.StatusOK, body)
}
