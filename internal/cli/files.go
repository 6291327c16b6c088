package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open a file with the platform viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			_, err = fu.OpenFileAtPath(ctx, args[0]).Await(ctx)
			return err
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a file; deleting a missing file succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			_, err = fu.DeleteFileAtPath(ctx, args[0]).Await(ctx)
			return err
		},
	}
}

func newNameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "name <path>",
		Short: "Print the display name of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			name, err := fu.GetNameForPath(ctx, args[0]).Await(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
}

func newMimeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mime <path>",
		Short: "Print the MIME type of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			mt, err := fu.GetMimeTypeForPath(ctx, args[0]).Await(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mt)
			return nil
		},
	}
}

func newSizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size <path>",
		Short: "Print the size of a file in bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			size, err := fu.GetSizeForPath(ctx, args[0]).Await(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), size)
			return nil
		},
	}
}

func newExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <path>",
		Short: "Print true if a file exists at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fu.FileExistsAtPath(args[0]))
			return nil
		},
	}
}

func newFoldersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "Print the encrypted and decrypted folders, creating them if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fu, err := a.files(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			enc, err := fu.EncryptedFolder(ctx)
			if err != nil {
				return err
			}
			dec, err := fu.DecryptedFolder(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "encrypted\t%s\n", enc)
			fmt.Fprintf(out, "decrypted\t%s\n", dec)
			return nil
		},
	}
}
