package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"gmbatch/internal/common/fsutil"
	"gmbatch/internal/httpapi"
	"gmbatch/internal/logging"
	"gmbatch/internal/status"
)

func newServeCmd() *cobra.Command {
	var (
		output   string
		addr     string
		logLevel string
		origins  []string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve a read-only status API over an output directory",
		Example: "  gmbatch serve --output out --addr :8080",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outdir, err := fsutil.ExpandHome(output)
			if err != nil {
				return err
			}
			log := logging.New(cmd.ErrOrStderr(), logging.Options{Level: logLevel, Console: true})
			httpapi.SetLogger(log)
			httpapi.SetCORSOptions(len(origins) > 0, origins, nil, nil)

			ctx := cmd.Context()
			httpapi.SetBaseContext(ctx)
			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewMux(status.New(outdir)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Str("output", outdir).Msg("status API listening")
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output directory written by run")
	f.StringVar(&addr, "addr", ":8080", "HTTP listen address")
	f.StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	f.StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origins; CORS is off when empty")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
