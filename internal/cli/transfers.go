package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/mailfiles/internal/models"
	"github.com/garyjia/mailfiles/pkg/utils"
)

func newUploadCmd(a *app) *cobra.Command {
	var headers []string

	cmd := &cobra.Command{
		Use:   "upload <path> <url>",
		Short: "Upload a file and print the HTTP status of the response",
		Long: `Upload a sandbox file to a URL. Any HTTP response counts as a completed
upload; its status code is printed.

Example:
  mailfiles upload encrypted/3f2a.bin https://files.example.com/blob --header v=1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := utils.ParseHeaders(headers)
			if err != nil {
				return err
			}
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			code, err := fu.UploadFileAtPath(ctx, args[0], args[1], models.TransferHeaders(h)).Await(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header as Name=value (repeatable)")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var headers []string

	cmd := &cobra.Command{
		Use:   "download <url> <file-name>",
		Short: "Download a URL into the decrypted folder and print the written path",
		Long: `Download a URL into the decrypted folder. An existing file is never
overwritten: "report.pdf" becomes "report (1).pdf" and so on.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := utils.ParseHeaders(headers)
			if err != nil {
				return err
			}
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			path, err := fu.DownloadFileFromURL(ctx, args[0], args[1], models.TransferHeaders(h)).Await(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header as Name=value (repeatable)")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	var direction string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent uploads and downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			direction = strings.ToUpper(direction)
			switch direction {
			case "", models.TransferDirectionUpload, models.TransferDirectionDownload:
			default:
				return fmt.Errorf("--direction must be upload or download")
			}

			c, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			repo := c.TransferLog()
			if repo == nil {
				return fmt.Errorf("transfer log is disabled (database.path is empty)")
			}

			records, err := repo.ListRecent(cmd.Context(), direction, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tDIRECTION\tSTATUS\tCODE\tBYTES\tURL")
			for _, r := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Direction, r.Status, r.StatusCode, r.Bytes, r.URL)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	cmd.Flags().StringVar(&direction, "direction", "", "Only show upload or download")
	return cmd
}
