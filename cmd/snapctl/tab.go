package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/onkernel/snaprelay/lib/allowlist"
	"github.com/onkernel/snaprelay/lib/crosstab"
	"github.com/onkernel/snaprelay/lib/dashsync"
	"github.com/onkernel/snaprelay/lib/pagewire"
	"github.com/onkernel/snaprelay/lib/relay"
	"github.com/onkernel/snaprelay/lib/webappbridge"
	"github.com/onkernel/snaprelay/lib/wsport"
)

const tabWindow pagewire.Window = "window:snapctl"

type tabCapture struct {
	dashsync.Capture
	Remote bool `json:"remote"`
}

func newTabCommand(opts *rootOptions) *cobra.Command {
	var (
		crossTabBase string
		channel      string
		capture      bool
	)

	cmd := &cobra.Command{
		Use:   "tab",
		Short: "Run a headless dashboard tab that mirrors captures with its siblings",
		Args:  cobra.NoArgs,
		Example: `  snapctl tab --origin https://lecturesnap.app
  snapctl tab --origin https://lecturesnap.app --capture`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			if crossTabBase == "" {
				crossTabBase = strings.TrimSuffix(opts.relayURL, "/relay/ws") + "/crosstab/"
			}

			var list *allowlist.List
			if opts.origin != "" {
				if list, err = allowlist.New(opts.origin); err != nil {
					return err
				}
			}

			conn, err := wsport.Dial(ctx, opts.relayURL, wsport.DialOptions{
				Logger: logger,
				Kind:   relay.ContextWebApp,
				Header: opts.header(),
			})
			if err != nil {
				return err
			}
			defer conn.Close("tab closed")

			page := dashsync.NewSurface(tabWindow, opts.origin)
			bridge, err := webappbridge.New(webappbridge.Options{
				Logger:    logger,
				Window:    page.Window(),
				AllowList: list,
				Relay:     conn,
				Page:      page,
			})
			if err != nil {
				return err
			}
			removeBridge := page.AddListener(func(ev pagewire.Event) { bridge.OnPageMessage(ctx, ev) })
			defer removeBridge()

			tabs, err := dashsync.New(dashsync.Options{
				Logger: logger,
				Name:   channel,
				CrossTab: crosstab.DialOpener{
					Base:    crossTabBase,
					Options: crosstab.DialOptions{Logger: logger, Header: opts.header()},
				},
				Page:   page,
				Window: page.Window(),
			})
			if err != nil {
				return err
			}
			if err := tabs.Start(ctx); err != nil {
				return err
			}
			defer tabs.Cleanup()

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			tabs.OnCapture(func(c dashsync.Capture) {
				mu.Lock()
				defer mu.Unlock()
				if err := printJSON(out, tabCapture{Capture: c, Remote: c.Remote}); err != nil {
					logger.Warn("write capture failed", "err", err)
				}
			})

			go func() {
				if err := conn.ReadLoop(ctx, bridge.OnRelayMessage); err != nil {
					logger.Debug("relay read loop ended", "err", err)
				}
			}()

			if capture {
				if err := page.PostToPage(ctx, pagewire.Message{Type: pagewire.TypeCaptureRequest}); err != nil {
					return err
				}
			}

			select {
			case <-ctx.Done():
				return nil
			case <-conn.Done():
				return fmt.Errorf("tab: %w", errRelayClosed)
			}
		},
	}

	cmd.Flags().StringVar(&crossTabBase, "crosstab", "",
		"Cross-tab route prefix (default: derived from --relay)")
	cmd.Flags().StringVar(&channel, "channel", dashsync.DefaultChannel,
		"Cross-tab channel name")
	cmd.Flags().BoolVar(&capture, "capture", false,
		"Request one capture after joining")

	return cmd
}
