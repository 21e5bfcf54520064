package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"callcenter/internal/auth"
	"callcenter/internal/config"
	"callcenter/internal/database"
	"callcenter/internal/models"
	"callcenter/internal/service"

	"github.com/rs/zerolog"
)

// defaultPermissions maps each dashboard page to the permissions it checks.
var defaultPermissions = []struct {
	page  string
	names []string
}{
	{"dashboard", []string{"view_dashboard"}},
	{"users", []string{"view_users", "create_users", "edit_users", "delete_users"}},
	{"roles", []string{"view_roles", "create_roles", "edit_roles", "delete_roles"}},
	{"tracker", []string{"view_tracker", "create_tracker", "edit_tracker", "delete_tracker", "download_tracker"}},
	{"upload", []string{"view_uploads", "upload_file"}},
	{"calls", []string{"make_calls", "transfer_calls"}},
}

// clientPermissions are granted to the Client role.
var clientPermissions = map[string]bool{
	"view_dashboard":   true,
	"view_tracker":     true,
	"download_tracker": true,
	"view_uploads":     true,
	"upload_file":      true,
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	var (
		configPath    = flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
		adminEmail    = flag.String("admin-email", "admin@example.com", "admin login")
		adminPassword = flag.String("admin-password", os.Getenv("SEED_ADMIN_PASSWORD"), "admin password")
		dummy         = flag.Bool("dummy", false, "also insert dummy trackers and upload logs")
		clients       = flag.Int("clients", 5, "number of dummy clients")
		from          = flag.String("from", time.Now().AddDate(0, -3, 0).Format(models.DateLayout), "first dummy tracker date")
		to            = flag.String("to", time.Now().Format(models.DateLayout), "last dummy tracker date")
	)
	flag.Parse()

	if *adminPassword == "" {
		return errors.New("admin password is required (-admin-password or SEED_ADMIN_PASSWORD)")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.NewDB(cfg.Database, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	adminRole, clientRole, err := seedRoles(ctx, db)
	if err != nil {
		return err
	}
	logger.Info().Int64("admin_role", adminRole).Int64("client_role", clientRole).Msg("roles ready")

	admin, err := ensureUser(ctx, db, *adminEmail, *adminPassword, "Administrator", adminRole)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Info().Int64("id", admin.ID).Str("email", admin.Email).Msg("admin ready")

	if !*dummy {
		return nil
	}

	start, err := time.ParseInLocation(models.DateLayout, *from, time.Local)
	if err != nil {
		return fmt.Errorf("parse -from: %w", err)
	}
	end, err := time.ParseInLocation(models.DateLayout, *to, time.Local)
	if err != nil {
		return fmt.Errorf("parse -to: %w", err)
	}

	clientIDs := make([]int64, 0, *clients)
	for i := 1; i <= *clients; i++ {
		u, err := ensureUser(ctx, db, fmt.Sprintf("client%d@example.com", i), *adminPassword, fmt.Sprintf("Client %d", i), clientRole)
		if err != nil {
			return fmt.Errorf("seed client %d: %w", i, err)
		}
		clientIDs = append(clientIDs, u.ID)
	}
	if len(clientIDs) == 0 {
		return errors.New("dummy data needs at least one client")
	}

	trackers, rows, err := seedTrackers(ctx, db, clientIDs, start, end)
	if err != nil {
		return err
	}
	logger.Info().Int("trackers", trackers).Int("rows", rows).Msg("dummy trackers inserted")

	logs, err := seedUploadLogs(ctx, db, clientIDs)
	if err != nil {
		return err
	}
	logger.Info().Int("upload_logs", logs).Msg("dummy upload logs inserted")
	return nil
}

func seedRoles(ctx context.Context, db *database.DB) (adminRole, clientRole int64, err error) {
	var all, forClient []int64
	for _, group := range defaultPermissions {
		for _, name := range group.names {
			id, err := db.EnsurePermission(ctx, name, group.page)
			if err != nil {
				return 0, 0, fmt.Errorf("permission %s: %w", name, err)
			}
			all = append(all, id)
			if clientPermissions[name] {
				forClient = append(forClient, id)
			}
		}
	}

	if adminRole, err = db.EnsureRole(ctx, "Admin"); err != nil {
		return 0, 0, fmt.Errorf("admin role: %w", err)
	}
	if err = db.GrantPermissions(ctx, adminRole, all); err != nil {
		return 0, 0, fmt.Errorf("grant admin: %w", err)
	}
	if clientRole, err = db.EnsureRole(ctx, models.ClientRoleName); err != nil {
		return 0, 0, fmt.Errorf("client role: %w", err)
	}
	if err = db.GrantPermissions(ctx, clientRole, forClient); err != nil {
		return 0, 0, fmt.Errorf("grant client: %w", err)
	}
	return adminRole, clientRole, nil
}

// ensureUser creates the user or, when the email exists, assigns the role.
func ensureUser(ctx context.Context, db *database.DB, email, password, name string, roleID int64) (*models.User, error) {
	existing, err := db.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return existing, db.SetUserRoles(ctx, existing.ID, []int64{roleID})
	case !errors.Is(err, database.ErrNotFound):
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{Email: email, Password: hash, Name: name, Slug: service.Slugify(name)}
	if err := db.CreateUser(ctx, u, []int64{roleID}); err != nil {
		return nil, err
	}
	return u, nil
}

func seedTrackers(ctx context.Context, db *database.DB, clientIDs []int64, start, end time.Time) (trackers, rows int, err error) {
	statuses := []string{models.UploadSuccess, models.UploadFailed, models.UploadProcessing}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dials := randInt(150, 300)
		contacts := randInt(100, dials)
		gross := randInt(70, contacts)
		t := &models.LgTracker{
			ClientID:      clientIDs[rand.IntN(len(clientIDs))],
			NoOfDials:     dials,
			NoOfContacts:  contacts,
			GrossTransfer: gross,
			NetTransfer:   randInt(10, gross),
			Date:          d.Format(models.DateLayout),
			Status:        statuses[rand.IntN(len(statuses))],
		}

		var leads []models.LeadRow
		if rand.Float64() > 0.3 {
			leads = dummyLeads(randInt(1, 10))
			t.FileName = fmt.Sprintf("file_%d.csv", d.Unix())
			t.Count = len(leads)
		}
		if err := db.SaveTrackerUpload(ctx, t, leads, len(leads) > 0); err != nil {
			return trackers, rows, fmt.Errorf("tracker %s: %w", t.Date, err)
		}
		trackers++
		rows += len(leads)
	}
	return trackers, rows, nil
}

func seedUploadLogs(ctx context.Context, db *database.DB, clientIDs []int64) (int, error) {
	for i, clientID := range clientIDs {
		leads := dummyLeads(randInt(5, 50))
		log := &models.UploadLog{
			ClientID: clientID,
			FileName: fmt.Sprintf("upload_%d.csv", i+1),
			Date:     time.Now().Format(models.DateLayout),
		}
		if err := db.CreateUploadLog(ctx, log); err != nil {
			return i, err
		}
		log.Count = len(leads)
		log.Status = models.UploadSuccess
		if err := db.CompleteUploadLog(ctx, log, leads); err != nil {
			return i, err
		}
	}
	return len(clientIDs), nil
}

func dummyLeads(n int) []models.LeadRow {
	statuses := []string{"pending", "completed", "failed"}
	leads := make([]models.LeadRow, n)
	for i := range leads {
		leads[i] = models.LeadRow{
			CustomerName: fmt.Sprintf("Customer %d", i+1),
			PhoneNumber:  fmt.Sprintf("9%09d", rand.IntN(1_000_000_000)),
			Status:       statuses[rand.IntN(len(statuses))],
		}
	}
	return leads
}

func randInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
