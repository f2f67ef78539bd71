package cli

import (
	"github.com/spf13/cobra"

	"github.com/mailchimp/Firebase/internal/identity"
)

// HashResult is the JSON payload of the hash command.
type HashResult struct {
	Email          string `json:"email"`
	SubscriberHash string `json:"subscriber_hash"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <email>",
		Short: "Print the audience subscriber hash of an email address",
		Long: `Print the subscriber hash the audience API uses to address a member:
the hex MD5 digest of the lowercased email address.

Example:
  mcsync hash Someone@Example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			h := identity.SubscriberHash(args[0])
			return formatter.Success(h, HashResult{Email: args[0], SubscriberHash: h})
		},
	}
}
