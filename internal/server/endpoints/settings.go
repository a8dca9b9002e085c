package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/svcctx"
)

// SettingsResponse is the active configuration with API keys masked.
type SettingsResponse struct {
	ConfigFile string         `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Settings   *config.Config `json:"settings" yaml:"settings"`
}

// SettingsEndpoint handles GET /api/settings.
type SettingsEndpoint struct{}

var _ api.Endpoint = (*SettingsEndpoint)(nil)

func (e *SettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

// handler godoc
//
//	@Summary		Show settings
//	@Description	Returns the active configuration with literal API keys masked
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/settings [get]
func (e *SettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ServicesFrom(r.Context())
	if svc == nil || svc.Config == nil {
		writeError(w, http.StatusServiceUnavailable, "config not available")
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{
		ConfigFile: svc.Config.ConfigFileUsed(),
		Settings:   svc.Config.Get().Redacted(),
	})
}

func (e *SettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the server's active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingsResponse
			if err := client.Get(cmd.Context(), "/api/settings", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
