package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

// errBankChanged marks a bank file that differs from its recorded import.
var errBankChanged = errors.New("question bank changed since last import")

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the admin user and import question banks",
		RunE:  runSeed,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringSliceP("questions", "q", []string{"questions/sample_bank.json"}, "Question bank files to import (repeatable)")
	f.String("admin-password", "", "Initial admin password (or set SKILLCHECK_ADMIN_PASSWORD)")
	f.String("admin-job-number", "ADMIN", "Job number of the initial admin user")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := seedAdmin(ctx, db, v.GetString("admin-job-number"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return importBanks(ctx, db, v.GetStringSlice("questions"))
}

// importBanks loads question bank files. Files already imported with the same
// content are skipped; files whose content changed are refused so papers keep
// pointing at the questions they were built from.
func importBanks(ctx context.Context, db *store.Store, paths []string) error {
	var refused []string
	for _, path := range paths {
		err := importBank(ctx, db, path)
		if errors.Is(err, errBankChanged) {
			slog.Warn("questions file changed since last import, refusing to re-import", "path", path)
			refused = append(refused, path)
			continue
		}
		if err != nil {
			return err
		}
	}
	if len(refused) > 0 {
		return fmt.Errorf("%w: %v", errBankChanged, refused)
	}
	return nil
}

func importBank(ctx context.Context, db *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(ctx, path)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("questions file unchanged, skipping", "path", path)
		return nil
	}
	if storedHash != "" {
		return errBankChanged
	}

	var bank model.QuestionBank
	if err := json.Unmarshal(data, &bank); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	tags, questions, err := db.ImportQuestionBank(ctx, bank)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported questions", "path", path, "tags", tags, "questions", questions)
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// seedAdmin creates the first administrator when the database has no users.
func seedAdmin(ctx context.Context, db *store.Store, jobNumber, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or SKILLCHECK_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		JobNumber:    jobNumber,
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "job_number", jobNumber)
	return nil
}
