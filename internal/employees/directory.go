// Package employees is the staff directory backing LOGIN and the chat
// role checks. Records live in a flat file and are cached in memory.
package employees

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/auth"
	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/filedb"
)

// Record is one employee row.
// File format: id,username,passwordHash,role,branch,accountNumber,phone
type Record struct {
	ID            string
	Username      string
	PasswordHash  string
	Role          domain.EmployeeRole
	Branch        domain.Branch
	AccountNumber string
	Phone         string
}

type Directory struct {
	mu     sync.Mutex
	byUser map[string]*Record
	nextID int
	db     *filedb.DB
	logger *zap.Logger
}

func NewDirectory(db *filedb.DB, logger *zap.Logger) (*Directory, error) {
	d := &Directory{
		byUser: make(map[string]*Record),
		nextID: 1,
		db:     db,
		logger: logger,
	}
	if db == nil {
		return d, nil
	}

	lines, err := db.ReadAllLines()
	if err != nil {
		return nil, fmt.Errorf("load employees: %w", err)
	}
	for _, line := range lines {
		rec, err := parseLine(line)
		if err != nil {
			logger.Warn("skipping bad employee line", zap.String("line", line), zap.Error(err))
			continue
		}
		d.byUser[rec.Username] = &rec
		if n, err := strconv.Atoi(rec.ID); err == nil && n >= d.nextID {
			d.nextID = n + 1
		}
	}
	return d, nil
}

func parseLine(line string) (Record, error) {
	t := strings.Split(line, ",")
	if len(t) != 7 {
		return Record{}, fmt.Errorf("want 7 fields, got %d", len(t))
	}
	role, err := domain.ParseEmployeeRole(t[3])
	if err != nil {
		return Record{}, err
	}
	branch, err := domain.ParseBranch(t[4])
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:            t[0],
		Username:      t[1],
		PasswordHash:  t[2],
		Role:          role,
		Branch:        branch,
		AccountNumber: t[5],
		Phone:         t[6],
	}, nil
}

// FindByUsername returns one employee record.
func (d *Directory) FindByUsername(username string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.byUser[username]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ListAll returns every record, ordered by numeric id.
func (d *Directory) ListAll() []Record {
	d.mu.Lock()
	out := make([]Record, 0, len(d.byUser))
	for _, rec := range d.byUser {
		out = append(out, *rec)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

// Add creates an employee. The username must be unused and the
// plaintext password must pass the policy; it is stored bcrypt-hashed.
func (d *Directory) Add(username, plainPassword string, role domain.EmployeeRole, branch domain.Branch, accountNumber, phone string) (Record, error) {
	if strings.TrimSpace(username) == "" {
		return Record{}, fmt.Errorf("%w: username is required", domain.ErrValidation)
	}
	if !auth.ValidatePassword(plainPassword) {
		return Record{}, domain.ErrWeakPassword
	}
	hash, err := auth.HashPassword(plainPassword)
	if err != nil {
		return Record{}, fmt.Errorf("hash password: %w", err)
	}

	d.mu.Lock()
	if _, ok := d.byUser[username]; ok {
		d.mu.Unlock()
		return Record{}, domain.ErrUsernameExists
	}
	rec := Record{
		ID:            strconv.Itoa(d.nextID),
		Username:      username,
		PasswordHash:  hash,
		Role:          role,
		Branch:        branch,
		AccountNumber: accountNumber,
		Phone:         phone,
	}
	d.nextID++
	d.byUser[username] = &rec
	d.mu.Unlock()

	d.persist()
	d.logger.Info("employee added",
		zap.String("id", rec.ID),
		zap.String("username", username),
		zap.String("role", string(role)),
		zap.String("branch", string(branch)),
	)
	return rec, nil
}

// DeleteByID removes an employee. Reports whether a record existed.
func (d *Directory) DeleteByID(id string) bool {
	d.mu.Lock()
	var victim string
	for user, rec := range d.byUser {
		if rec.ID == id {
			victim = user
			break
		}
	}
	if victim == "" {
		d.mu.Unlock()
		return false
	}
	delete(d.byUser, victim)
	d.mu.Unlock()

	d.persist()
	d.logger.Info("employee deleted", zap.String("id", id))
	return true
}

// Authenticate verifies a username/password pair against the stored
// bcrypt hash.
func (d *Directory) Authenticate(username, password string) (Record, bool) {
	rec, ok := d.FindByUsername(username)
	if !ok {
		return Record{}, false
	}
	if !auth.CheckPassword(rec.PasswordHash, password) {
		return Record{}, false
	}
	return rec, true
}

func (d *Directory) persist() {
	if d.db == nil {
		return
	}
	var lines []string
	for _, rec := range d.ListAll() {
		lines = append(lines, strings.Join([]string{
			rec.ID, rec.Username, rec.PasswordHash,
			string(rec.Role), string(rec.Branch),
			rec.AccountNumber, rec.Phone,
		}, ","))
	}
	if err := d.db.WriteAllLines(lines); err != nil {
		d.logger.Warn("employee flush failed", zap.Error(err))
	}
}
