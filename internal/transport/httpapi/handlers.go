package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/processor"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBrokerError(w http.ResponseWriter, err *brokererr.Error) {
	writeJSON(w, statusForCode(err.Code), map[string]string{"code": string(err.Code), "message": err.Message})
}

func statusForCode(code brokererr.Code) int {
	switch code {
	case brokererr.InvalidCollectionError, brokererr.InvalidSecretError, brokererr.InvalidFilterError, brokererr.InvalidExtensionPluginError:
		return http.StatusBadRequest
	case brokererr.CollectionAlreadyExistsError, brokererr.SecretAlreadyExistsError:
		return http.StatusConflict
	case brokererr.PermissionsError:
		return http.StatusForbidden
	case brokererr.CollectionIsLockedError, brokererr.SecretsDaemonLockedError, brokererr.IncorrectAuthenticationCodeError:
		return http.StatusUnauthorized
	case brokererr.OperationRequiresUserInteraction, brokererr.OperationRequiresApplicationUserInteraction:
		return http.StatusPreconditionRequired
	case brokererr.InteractionViewUserCanceledError:
		return http.StatusConflict
	case brokererr.InterleavedRequestError:
		return http.StatusTooManyRequests
	case brokererr.OperationNotSupportedError:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// GET /secrets/plugins
func (s *Server) handleGetPluginInfo(w http.ResponseWriter, r *http.Request) {
	storage, encryption, encryptedStorage, authentication := s.proc.GetPluginInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"storage":          storage,
		"encryption":       encryption,
		"encrypted_storage": encryptedStorage,
		"authentication":   authentication,
	})
}

// GET /secrets/collections
func (s *Server) handleCollectionNames(w http.ResponseWriter, r *http.Request) {
	names, err := s.proc.CollectionNames()
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": names})
}

type createCollectionRequest struct {
	CollectionName            string `json:"collection_name"`
	StoragePlugin              string `json:"storage_plugin"`
	EncryptionPlugin           string `json:"encryption_plugin"`
	AuthenticationPlugin       string `json:"authentication_plugin"`
	UnlockSemantic             int    `json:"unlock_semantic"`
	CustomLockTimeoutMs        int64  `json:"custom_lock_timeout_ms"`
	AccessControlMode          int    `json:"access_control_mode"`
	InteractionServiceAddress  string `json:"interaction_service_address"`
}

func (req createCollectionRequest) toParams() processor.CreateCollectionParams {
	return processor.CreateCollectionParams{
		CollectionName:            req.CollectionName,
		StoragePlugin:             req.StoragePlugin,
		EncryptionPlugin:          req.EncryptionPlugin,
		AuthenticationPlugin:      req.AuthenticationPlugin,
		UnlockSemantic:            bookkeeping.UnlockSemantic(req.UnlockSemantic),
		CustomLockTimeoutMs:       req.CustomLockTimeoutMs,
		AccessControlMode:         bookkeeping.AccessControlMode(req.AccessControlMode),
		InteractionServiceAddress: req.InteractionServiceAddress,
	}
}

// POST /secrets/collections/devicelock
func (s *Server) handleCreateDeviceLockCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	if err := s.proc.CreateDeviceLockCollection(r.Context(), callerPID(r), requestID(r), req.toParams()); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// POST /secrets/collections/customlock
func (s *Server) handleCreateCustomLockCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	if err := s.proc.CreateCustomLockCollection(r.Context(), callerPID(r), requestID(r), req.toParams()); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// DELETE /secrets/collections/{name}
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.proc.DeleteCollection(r.Context(), callerPID(r), requestID(r), name); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type setSecretRequest struct {
	DataBase64           string            `json:"data_base64"`
	Filter               map[string]string `json:"filter"`
	StoragePlugin        string            `json:"storage_plugin"`
	EncryptionPlugin     string            `json:"encryption_plugin"`
	AuthenticationPlugin string            `json:"authentication_plugin"`
	UnlockSemantic       int               `json:"unlock_semantic"`
	CustomLockTimeoutMs  int64             `json:"custom_lock_timeout_ms"`
	AccessControlMode    int               `json:"access_control_mode"`
}

// PUT /secrets/collections/{name}/secrets/{secret}
func (s *Server) handleSetCollectionSecret(w http.ResponseWriter, r *http.Request) {
	var req setSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	data, derr := base64.StdEncoding.DecodeString(req.DataBase64)
	if derr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "data_base64 is not valid base64"})
		return
	}
	params := processor.SetSecretParams{
		CollectionName: r.PathValue("name"),
		SecretName:     r.PathValue("secret"),
		Data:           data,
		Filter:         req.Filter,
	}
	if err := s.proc.SetCollectionSecret(r.Context(), callerPID(r), requestID(r), params); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// GET /secrets/collections/{name}/secrets/{secret}
func (s *Server) handleGetCollectionSecret(w http.ResponseWriter, r *http.Request) {
	data, err := s.proc.GetCollectionSecret(r.Context(), callerPID(r), requestID(r), r.PathValue("name"), r.PathValue("secret"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"data_base64": base64.StdEncoding.EncodeToString(data)})
}

// DELETE /secrets/collections/{name}/secrets/{secret}
func (s *Server) handleDeleteCollectionSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.DeleteCollectionSecret(r.Context(), callerPID(r), requestID(r), r.PathValue("name"), r.PathValue("secret")); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type findSecretsRequest struct {
	Filter   map[string]string `json:"filter"`
	Operator int               `json:"operator"`
}

// POST /secrets/collections/{name}/find
func (s *Server) handleFindCollectionSecrets(w http.ResponseWriter, r *http.Request) {
	var req findSecretsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	names, err := s.proc.FindCollectionSecrets(r.Context(), callerPID(r), requestID(r), processor.FindSecretsParams{
		CollectionName: r.PathValue("name"),
		Filter:         req.Filter,
		Operator:       req.Operator,
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": names})
}

// PUT /secrets/standalone/devicelock/{secret}
func (s *Server) handleSetStandaloneDeviceLockSecret(w http.ResponseWriter, r *http.Request) {
	var req setSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	data, _ := base64.StdEncoding.DecodeString(req.DataBase64)
	err := s.proc.SetStandaloneDeviceLockSecret(r.Context(), callerPID(r), requestID(r), processor.SetSecretParams{
		SecretName:       r.PathValue("secret"),
		Data:             data,
		Filter:           req.Filter,
		StoragePlugin:    req.StoragePlugin,
		EncryptionPlugin: req.EncryptionPlugin,
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// PUT /secrets/standalone/customlock/{secret}
func (s *Server) handleSetStandaloneCustomLockSecret(w http.ResponseWriter, r *http.Request) {
	var req setSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	data, _ := base64.StdEncoding.DecodeString(req.DataBase64)
	err := s.proc.SetStandaloneCustomLockSecret(r.Context(), callerPID(r), requestID(r), processor.SetSecretParams{
		SecretName:           r.PathValue("secret"),
		Data:                 data,
		Filter:               req.Filter,
		StoragePlugin:        req.StoragePlugin,
		EncryptionPlugin:     req.EncryptionPlugin,
		AuthenticationPlugin: req.AuthenticationPlugin,
		UnlockSemantic:       bookkeeping.UnlockSemantic(req.UnlockSemantic),
		CustomLockTimeoutMs:  req.CustomLockTimeoutMs,
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// GET /secrets/standalone/{secret}
func (s *Server) handleGetStandaloneSecret(w http.ResponseWriter, r *http.Request) {
	data, err := s.proc.GetStandaloneSecret(r.Context(), callerPID(r), requestID(r), r.PathValue("secret"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"data_base64": base64.StdEncoding.EncodeToString(data)})
}

// DELETE /secrets/standalone/{secret}
func (s *Server) handleDeleteStandaloneSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.DeleteStandaloneSecret(r.Context(), callerPID(r), requestID(r), r.PathValue("secret")); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type lockCodeRequest struct {
	OldCodeBase64 string `json:"old_code_base64"`
	NewCodeBase64 string `json:"new_code_base64"`
}

// POST /secrets/lock/database/provide
func (s *Server) handleProvideDatabaseLockCode(w http.ResponseWriter, r *http.Request) {
	var req lockCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	code, _ := base64.StdEncoding.DecodeString(req.NewCodeBase64)
	if err := s.proc.ProvideLockCode(r.Context(), callerPID(r), processor.TargetBookkeepingDatabase, "", code); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// POST /secrets/lock/database/modify
func (s *Server) handleModifyDatabaseLockCode(w http.ResponseWriter, r *http.Request) {
	var req lockCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	oldCode, _ := base64.StdEncoding.DecodeString(req.OldCodeBase64)
	newCode, _ := base64.StdEncoding.DecodeString(req.NewCodeBase64)
	if err := s.proc.ModifyLockCode(r.Context(), callerPID(r), processor.TargetBookkeepingDatabase, "", oldCode, newCode); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rekeyed"})
}

// POST /secrets/lock/database/forget
func (s *Server) handleForgetDatabaseLockCode(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.ForgetLockCode(r.Context(), callerPID(r), processor.TargetBookkeepingDatabase, ""); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten"})
}
