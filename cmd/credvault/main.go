package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "credvault",
	Short: "CredVault CLI",
	Long:  "A CLI for managing credentials in CredVault.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(vaultCmd())
	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(passwordCmd())
	rootCmd.AddCommand(rotationCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(auditCmd())
}

// --- login ---

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Save an API token to the CLI config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loadConfig()
			cfg.Token = args[0]
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Fprintln(os.Stderr, "Token saved to config.")
			return nil
		},
	}
}

// --- vault ---

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vault", Short: "Manage vaults"}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			assetID, _ := cmd.Flags().GetInt64("asset-id")
			body := map[string]any{
				"name":        args[0],
				"description": description,
			}
			if assetID != 0 {
				body["asset_id"] = assetID
			}
			client := newClient()
			result, err := client.post("/v1/vaults", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	createCmd.Flags().String("description", "", "Vault description")
	createCmd.Flags().Int64("asset-id", 0, "Asset to bind the vault to (one vault per asset)")

	getCmd := &cobra.Command{
		Use:   "get <vault-id>",
		Short: "Read a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vaults/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <vault-id>",
		Short: "Show the vault change history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			client := newClient()
			result, err := client.get("/v1/vaults/" + args[0] + "/history?limit=" + strconv.Itoa(limit))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result)
			return nil
		},
	}
	historyCmd.Flags().Int("limit", 50, "Maximum entries to show")

	exportCmd := &cobra.Command{
		Use:   "export <vault-id>",
		Short: "Export a vault (values stay encrypted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vaults/" + args[0] + "/export")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, getCmd, historyCmd, exportCmd)
	return cmd
}

// --- secret ---

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Short: "Manage secrets inside a vault"}

	addCmd := &cobra.Command{
		Use:   "add <vault-id> <label>",
		Short: "Add a secret to a vault",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secretType, _ := cmd.Flags().GetString("type")
			value, _ := cmd.Flags().GetString("value")
			method, _ := cmd.Flags().GetString("method")
			if value == "" {
				printError("a value is required (use --value)")
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/vaults/"+args[0]+"/secrets", map[string]any{
				"secret_type":       secretType,
				"label":             args[1],
				"value":             value,
				"generation_method": method,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	addCmd.Flags().String("type", "password", "Secret type: password, ip_address, vpn_key, license_file")
	addCmd.Flags().String("value", "", "Secret value")
	addCmd.Flags().String("method", "manual", "Generation method: manual, generated")

	getCmd := &cobra.Command{
		Use:   "get <secret-id>",
		Short: "Decrypt and print a secret value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secrets/" + args[0] + "/value")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <vault-id>",
		Short: "List the secrets in a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vaults/" + args[0] + "/secrets")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result)
			return nil
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update <secret-id>",
		Short: "Update a secret's label or value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("label") {
				label, _ := cmd.Flags().GetString("label")
				body["label"] = label
			}
			if cmd.Flags().Changed("value") {
				value, _ := cmd.Flags().GetString("value")
				body["value"] = value
			}
			if reason, _ := cmd.Flags().GetString("reason"); reason != "" {
				body["reason"] = reason
			}
			if len(body) == 0 {
				printError("nothing to update (use --label or --value)")
				return nil
			}
			client := newClient()
			result, err := client.put("/v1/secrets/"+args[0], body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	updateCmd.Flags().String("label", "", "New label")
	updateCmd.Flags().String("value", "", "New value (passwords go through rotation)")
	updateCmd.Flags().String("reason", "", "Reason recorded when a password value changes")

	deleteCmd := &cobra.Command{
		Use:   "delete <secret-id>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/secrets/"+args[0], nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Secret deleted.")
			return nil
		},
	}

	checkReuseCmd := &cobra.Command{
		Use:   "check-reuse <secret-id> <password>",
		Short: "Check a candidate password against the secret's history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/secrets/"+args[0]+"/check-reuse", map[string]any{
				"password": args[1],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	cmd.AddCommand(addCmd, getCmd, listCmd, updateCmd, deleteCmd, checkReuseCmd)
	return cmd
}

// --- password ---

func passwordCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "password", Short: "Generate and score passwords"}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a secure password",
		RunE: func(cmd *cobra.Command, args []string) error {
			length, _ := cmd.Flags().GetInt("length")
			noUpper, _ := cmd.Flags().GetBool("no-uppercase")
			noLower, _ := cmd.Flags().GetBool("no-lowercase")
			noNumbers, _ := cmd.Flags().GetBool("no-numbers")
			noSpecial, _ := cmd.Flags().GetBool("no-special")
			excludeAmbiguous, _ := cmd.Flags().GetBool("exclude-ambiguous")
			client := newClient()
			result, err := client.post("/v1/passwords/generate", map[string]any{
				"length":            length,
				"include_uppercase": !noUpper,
				"include_lowercase": !noLower,
				"include_numbers":   !noNumbers,
				"include_special":   !noSpecial,
				"exclude_ambiguous": excludeAmbiguous,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	generateCmd.Flags().Int("length", 20, "Password length")
	generateCmd.Flags().Bool("no-uppercase", false, "Exclude uppercase letters")
	generateCmd.Flags().Bool("no-lowercase", false, "Exclude lowercase letters")
	generateCmd.Flags().Bool("no-numbers", false, "Exclude digits")
	generateCmd.Flags().Bool("no-special", false, "Exclude special characters")
	generateCmd.Flags().Bool("exclude-ambiguous", false, "Exclude ambiguous characters (0, O, l, 1, I)")

	scoreCmd := &cobra.Command{
		Use:   "score <password>",
		Short: "Score a password's strength",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/passwords/score", map[string]any{
				"password": args[0],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	checkReuseCmd := &cobra.Command{
		Use:   "check-reuse <password>",
		Short: "Check a candidate password against chosen secrets' histories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, _ := cmd.Flags().GetInt64Slice("secrets")
			client := newClient()
			result, err := client.post("/v1/passwords/check-reuse", map[string]any{
				"password":   args[0],
				"secret_ids": ids,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	checkReuseCmd.Flags().Int64Slice("secrets", nil, "Secret ids whose histories to check against")

	cmd.AddCommand(generateCmd, scoreCmd, checkReuseCmd)
	return cmd
}

// --- rotation ---

func rotationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rotation", Short: "Password rotation commands"}

	rotateCmd := &cobra.Command{
		Use:   "rotate <secret-id> <new-password>",
		Short: "Rotate a password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			client := newClient()
			result, err := client.post("/v1/secrets/"+args[0]+"/rotate", map[string]any{
				"new_password": args[1],
				"reason":       reason,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	rotateCmd.Flags().String("reason", "", "Reason for the rotation")

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List passwords due or overdue for rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			client := newClient()
			result, err := client.get("/v1/rotation/alerts?days=" + strconv.Itoa(days))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result)
			return nil
		},
	}
	alertsCmd.Flags().Int("days", 7, "Alert horizon in days")

	complianceCmd := &cobra.Command{
		Use:   "compliance",
		Short: "Show rotation compliance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/rotation/compliance")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	scheduleCmd := &cobra.Command{Use: "schedule", Short: "Manage rotation schedules"}
	scheduleSetCmd := &cobra.Command{
		Use:   "set <vault-id>",
		Short: "Set the rotation schedule for a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetInt("interval")
			alertDays, _ := cmd.Flags().GetInt("alert-days")
			client := newClient()
			result, err := client.put("/v1/vaults/"+args[0]+"/schedule", map[string]any{
				"rotation_interval": interval,
				"alert_days_before": alertDays,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	scheduleSetCmd.Flags().Int("interval", 90, "Rotation interval in days")
	scheduleSetCmd.Flags().Int("alert-days", 7, "Days before the deadline to start alerting")

	scheduleGetCmd := &cobra.Command{
		Use:   "get <vault-id>",
		Short: "Show the rotation schedule for a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vaults/" + args[0] + "/schedule")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	scheduleCmd.AddCommand(scheduleSetCmd, scheduleGetCmd)

	cmd.AddCommand(rotateCmd, alertsCmd, complianceCmd, scheduleCmd)
	return cmd
}

// --- access ---

func accessCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "access", Short: "Manage vault access"}

	grantCmd := &cobra.Command{
		Use:   "grant <vault-id> <user-id> <permission>",
		Short: "Grant a permission on a vault",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				printError("invalid user id")
				return nil
			}
			body := map[string]any{
				"user_id":         userID,
				"permission_type": args[2],
			}
			if expires, _ := cmd.Flags().GetString("expires-at"); expires != "" {
				body["expires_at"] = expires
			}
			client := newClient()
			result, err := client.post("/v1/vaults/"+args[0]+"/permissions", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	grantCmd.Flags().String("expires-at", "", "Expiry timestamp (RFC 3339)")

	revokeCmd := &cobra.Command{
		Use:   "revoke <vault-id> <user-id> [permission]",
		Short: "Revoke permissions on a vault (all types if none given)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				printError("invalid user id")
				return nil
			}
			body := map[string]any{"user_id": userID}
			if len(args) == 3 {
				body["permission_type"] = args[2]
			}
			client := newClient()
			if err := client.delete("/v1/vaults/"+args[0]+"/permissions", body); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Permission revoked.")
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <vault-id>",
		Short: "List permissions on a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vaults/" + args[0] + "/permissions")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result)
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check <vault-id> <permission>",
		Short: "Check whether you hold a permission on a vault",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vaults/" + args[0] + "/access?permission=" + args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	requestCmd := &cobra.Command{
		Use:   "request <vault-id> <permission>",
		Short: "Request a permission on a vault",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/vaults/"+args[0]+"/requests", map[string]any{
				"permission_type": args[1],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	requestsCmd := &cobra.Command{
		Use:   "requests <vault-id>",
		Short: "List permission requests on a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			url := "/v1/vaults/" + args[0] + "/requests"
			if status != "" {
				url += "?status=" + status
			}
			client := newClient()
			result, err := client.get(url)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result)
			return nil
		},
	}
	requestsCmd.Flags().String("status", "", "Filter by status: pending, approved, denied, expired")

	approveCmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a permission request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			client := newClient()
			result, err := client.post("/v1/requests/"+args[0]+"/approve", map[string]any{
				"notes": notes,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	approveCmd.Flags().String("notes", "", "Approval notes")

	denyCmd := &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a permission request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			client := newClient()
			result, err := client.post("/v1/requests/"+args[0]+"/deny", map[string]any{
				"notes": notes,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}
	denyCmd.Flags().String("notes", "", "Denial notes")

	cmd.AddCommand(grantCmd, revokeCmd, listCmd, checkCmd, requestCmd, requestsCmd, approveCmd, denyCmd)
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Token management"}

	createCmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create a token for a user (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				printError("invalid user id")
				return nil
			}
			role, _ := cmd.Flags().GetString("role")
			displayName, _ := cmd.Flags().GetString("display-name")
			ttl, _ := cmd.Flags().GetString("ttl")
			client := newClient()
			result, err := client.post("/v1/auth/token/create", map[string]any{
				"user_id":      userID,
				"role":         role,
				"display_name": displayName,
				"ttl":          ttl,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if auth, ok := result["auth"].(map[string]any); ok {
				printResult(auth)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("role", "user", "Role: user or admin")
	createCmd.Flags().String("display-name", "", "Display name")
	createCmd.Flags().String("ttl", "", "Token TTL (e.g. 24h)")

	revokeCmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			_, err := client.post("/v1/auth/token/revoke", map[string]any{"token": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Token revoked.")
			return nil
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up the current token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/auth/token/lookup-self")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printData(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, revokeCmd, lookupCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			client := newClient()
			result, err := client.get("/v1/sys/audit-log?limit=" + strconv.Itoa(limit))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result)
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum entries to show")
	return cmd
}

// helpers

func printData(result map[string]any) {
	if d, ok := result["data"].(map[string]any); ok {
		printResult(d)
		return
	}
	printResult(result)
}

func printDataList(result map[string]any) {
	if items, ok := result["data"].([]any); ok {
		printList(items)
		return
	}
	printData(result)
}
