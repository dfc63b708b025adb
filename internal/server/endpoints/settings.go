package endpoints

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/config"
	"github.com/aimikata/storyboard/internal/svcctx"
)

// SettingsResponse contains the effective value of every documented key.
type SettingsResponse struct {
	Settings map[string]config.Entry `json:"settings"`
}

// SettingResponse contains a single config entry.
type SettingResponse struct {
	Entry *config.Entry `json:"entry,omitempty"`
}

// effectiveEntry returns the documented entry for key with its live value.
// Without a config manager the default is reported.
func effectiveEntry(cm *config.Manager, def config.Entry) config.Entry {
	if cm == nil {
		return def
	}
	if v, err := cm.Value(def.Key); err == nil {
		def.Value = v
	}
	return def
}

// ListSettingsEndpoint handles GET /api/settings.
type ListSettingsEndpoint struct{}

var _ api.Endpoint = (*ListSettingsEndpoint)(nil)

func (e *ListSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *ListSettingsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List all settings
//	@Description	Get the effective value of every documented setting
//	@Tags			settings
//	@Produce		json
//	@Param			prefix	query		string	false	"Key prefix filter"
//	@Success		200		{object}	SettingsResponse
//	@Router			/api/settings [get]
func (e *ListSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigFrom(r.Context())
	prefix := r.URL.Query().Get("prefix")

	settings := make(map[string]config.Entry)
	for _, def := range config.DefaultEntries() {
		if !strings.HasPrefix(def.Key, prefix) {
			continue
		}
		settings[def.Key] = effectiveEntry(cm, def)
	}
	writeJSON(w, http.StatusOK, SettingsResponse{Settings: settings})
}

func (e *ListSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/settings"
			if prefix != "" {
				path += "?prefix=" + url.QueryEscape(prefix)
			}
			client := api.NewClient(getServerURL())
			var resp SettingsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			// Map keys are emitted sorted by both encoders.
			return api.Output(resp.Settings)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Filter by key prefix (e.g., 'generation.')")
	return cmd
}

// GetSettingEndpoint handles GET /api/settings/{key...}.
type GetSettingEndpoint struct{}

var _ api.Endpoint = (*GetSettingEndpoint)(nil)

func (e *GetSettingEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings/{key...}", e.handler
}

func (e *GetSettingEndpoint) RequiresInit() bool { return false }

func (e *GetSettingEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key encoding")
		return
	}
	if err := config.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := config.GetDefault(key)
	if def == nil {
		cm := svcctx.ConfigFrom(r.Context())
		if cm == nil {
			writeError(w, http.StatusNotFound, "setting not found")
			return
		}
		v, err := cm.Value(key)
		if errors.Is(err, config.ErrUnknownKey) {
			writeError(w, http.StatusNotFound, "setting not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SettingResponse{Entry: &config.Entry{Key: key, Value: v}})
		return
	}

	entry := effectiveEntry(svcctx.ConfigFrom(r.Context()), *def)
	writeJSON(w, http.StatusOK, SettingResponse{Entry: &entry})
}

func (e *GetSettingEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a setting by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingResponse
			path := "/api/settings/" + url.PathEscape(args[0])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp.Entry)
		},
	}
}
