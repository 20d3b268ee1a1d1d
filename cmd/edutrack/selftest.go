package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"edutrack/internal/vault"
)

// selftestCmd proves the serving path cannot write to the vault.
var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Verify the read-only serving session at the database level",
	Long: `Opens the read-only session the production harness serves from and
runs its self-test: a temp-table write that must be refused by the
database itself. A writable session fails the test and the harness will
refuse to start.`,
	RunE: runSelftest,
}

func runSelftest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	session, err := vault.OpenReadOnly(databasePath(app.cfg), os.Getenv("READONLY_DATABASE_URL"))
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.SelfTest(ctx); err != nil {
		var ro *vault.DatabaseNotReadOnlyError
		if errors.As(err, &ro) {
			fmt.Println(errorStyle.Render("FAIL: ") + ro.Error())
			return fmt.Errorf("serving session is not read-only")
		}
		return err
	}

	// Application-level guard: writes through the session API must also be
	// refused even if the database were misconfigured.
	if _, err := session.ExecContext(ctx, "DELETE FROM curricula"); !errors.Is(err, vault.ErrGenerateSafetyViolation) {
		fmt.Println(errorStyle.Render("FAIL: ") + "session API accepted a write")
		return fmt.Errorf("write guard missing on read-only session")
	}

	fmt.Println(successStyle.Render("PASS: ") + "database refused writes; session API refused writes")
	return nil
}
