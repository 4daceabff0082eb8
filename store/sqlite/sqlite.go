/*
Package sqlite provides a SQLite-backed implementation of the payroll store.

PURPOSE:
  Implements payroll.CatalogStore (catalog, roster, contracts, individual
  assignments, versioned parameters and tax brackets) on SQLite. The same
  schema maps to PostgreSQL with minor dialect changes.

KEY TABLES:
  rubriques:           Rubrique catalog, keyed by code
  salary_structures:   Named default rubrique sets
  structure_rubriques: Structure-to-rubrique links with display order
  employees:           Roster
  contracts:           Wage and structure per employee, dated
  employee_rubriques:  Individual assignments with overrides
  payroll_parameters:  Append-only, dated parameter versions
  tax_brackets:        Append-only, dated bracket sets

VERSIONED WRITES:
  Parameters and tax brackets are never overwritten. A new version closes
  the open row (end_date = new start) and inserts the new row in the same
  database transaction, so readers see either the old or the new state.

STORAGE FORMATS:
  Dates are TEXT "2006-01-02". Money and rates are TEXT decimals so no
  value ever passes through float64.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; SQLite allows one writer at a time.

WAL MODE:
  Opened with WAL so batch readers do not block on a parameter write.

USAGE:
  store, err := sqlite.New("./data/paie.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payroll.NewService(store)

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/paie-engine/payroll"
)

// Store implements payroll.CatalogStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ payroll.CatalogStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Rubrique catalog
	CREATE TABLE IF NOT EXISTS rubriques (
		code TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_type TEXT NOT NULL,
		value TEXT,
		formula TEXT,
		subject_to_social_contrib BOOLEAN NOT NULL DEFAULT FALSE,
		subject_to_income_tax BOOLEAN NOT NULL DEFAULT FALSE,
		subject_to_employer_charge BOOLEAN NOT NULL DEFAULT FALSE,
		display_order INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		role TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Salary structures
	CREATE TABLE IF NOT EXISTS salary_structures (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS structure_rubriques (
		structure_id TEXT NOT NULL REFERENCES salary_structures(id) ON DELETE CASCADE,
		rubrique_code TEXT NOT NULL REFERENCES rubriques(code),
		position INTEGER NOT NULL,
		display_order INTEGER,
		PRIMARY KEY (structure_id, rubrique_code)
	);

	-- Roster
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		wage TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		salary_structure_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Active contract lookup (hot path)
	CREATE INDEX IF NOT EXISTS idx_contracts_employee_status
		ON contracts(employee_id, status, start_date DESC);

	-- Individual assignments
	CREATE TABLE IF NOT EXISTS employee_rubriques (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		rubrique_code TEXT NOT NULL REFERENCES rubriques(code),
		start_date TEXT NOT NULL,
		end_date TEXT,
		amount_override TEXT,
		rate_override TEXT,
		display_order INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employee_rubriques_employee
		ON employee_rubriques(employee_id, start_date, end_date);

	-- Parameters (append-only versions)
	CREATE TABLE IF NOT EXISTS payroll_parameters (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		description TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_parameters_code_dates
		ON payroll_parameters(code, start_date, end_date);

	-- Tax brackets (append-only sets)
	CREATE TABLE IF NOT EXISTS tax_brackets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		min_amount TEXT NOT NULL,
		max_amount TEXT,
		rate TEXT NOT NULL,
		fixed_amount TEXT NOT NULL,
		bracket_order INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tax_brackets_dates
		ON tax_brackets(start_date, end_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a database transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// RUBRIQUE CATALOG
// =============================================================================

const rubriqueColumns = `r.code, r.id, r.name, r.type, r.amount_type, r.value, r.formula,
	r.subject_to_social_contrib, r.subject_to_income_tax, r.subject_to_employer_charge,
	r.display_order, r.is_active, r.role`

// SaveRubrique inserts or updates a rubrique by code.
func (s *Store) SaveRubrique(ctx context.Context, r payroll.Rubrique) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rubriques (code, id, name, type, amount_type, value, formula,
			subject_to_social_contrib, subject_to_income_tax, subject_to_employer_charge,
			display_order, is_active, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			amount_type = excluded.amount_type,
			value = excluded.value,
			formula = excluded.formula,
			subject_to_social_contrib = excluded.subject_to_social_contrib,
			subject_to_income_tax = excluded.subject_to_income_tax,
			subject_to_employer_charge = excluded.subject_to_employer_charge,
			display_order = excluded.display_order,
			is_active = excluded.is_active,
			role = excluded.role,
			updated_at = excluded.updated_at
	`

	id := r.ID
	if id == "" {
		id = r.Code
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		r.Code, id, r.Name, string(r.Type), string(r.AmountType),
		nullDecimal(r.Value), nullStringPtr(r.Formula),
		r.SubjectToSocialContrib, r.SubjectToIncomeTax, r.SubjectToEmployerCharge,
		nullInt(r.DisplayOrder), r.IsActive, string(r.Role), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save rubrique %s: %w", r.Code, err)
	}
	return nil
}

// GetRubrique retrieves a rubrique by code.
func (s *Store) GetRubrique(ctx context.Context, code string) (*payroll.Rubrique, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+rubriqueColumns+" FROM rubriques r WHERE r.code = ?", code)
	r, err := scanRubrique(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRubriques returns the catalog ordered by code.
func (s *Store) ListRubriques(ctx context.Context) ([]payroll.Rubrique, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+rubriqueColumns+" FROM rubriques r ORDER BY r.code")
	if err != nil {
		return nil, fmt.Errorf("failed to query rubriques: %w", err)
	}
	defer rows.Close()

	var out []payroll.Rubrique
	for rows.Next() {
		r, err := scanRubrique(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRubrique reads the rubriqueColumns, plus any extra trailing columns.
func scanRubrique(sc scanner, extra ...any) (payroll.Rubrique, error) {
	var (
		r            payroll.Rubrique
		typ, amtType string
		role         string
		value        sql.NullString
		formula      sql.NullString
		displayOrder sql.NullInt64
	)
	dest := []any{
		&r.Code, &r.ID, &r.Name, &typ, &amtType, &value, &formula,
		&r.SubjectToSocialContrib, &r.SubjectToIncomeTax, &r.SubjectToEmployerCharge,
		&displayOrder, &r.IsActive, &role,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		if err == sql.ErrNoRows {
			return r, err
		}
		return r, fmt.Errorf("failed to scan rubrique: %w", err)
	}

	r.Type = payroll.RubriqueType(typ)
	r.AmountType = payroll.AmountType(amtType)
	r.Role = payroll.Role(role)
	if formula.Valid {
		f := formula.String
		r.Formula = &f
	}
	r.DisplayOrder = intFromNull(displayOrder)

	v, err := decimalFromNull(value)
	if err != nil {
		return r, fmt.Errorf("rubrique %s value: %w", r.Code, err)
	}
	r.Value = v
	return r, nil
}

// =============================================================================
// SALARY STRUCTURES
// =============================================================================

// SaveStructure replaces the structure and its links. Linked rubriques
// must already exist.
func (s *Store) SaveStructure(ctx context.Context, st payroll.SalaryStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO salary_structures (id, name, created_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			st.ID, st.Name, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to save structure %s: %w", st.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM structure_rubriques WHERE structure_id = ?", st.ID); err != nil {
			return fmt.Errorf("failed to clear structure links: %w", err)
		}

		for i, l := range st.Rubriques {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO structure_rubriques (structure_id, rubrique_code, position, display_order)
				VALUES (?, ?, ?, ?)`,
				st.ID, l.Rubrique.Code, i, nullInt(l.DisplayOrder),
			)
			if err != nil {
				return fmt.Errorf("failed to link %s to structure %s: %w", l.Rubrique.Code, st.ID, err)
			}
		}
		return nil
	})
}

// StructureRubriques returns the links of a structure in insertion order,
// joined with the current rubrique definitions.
func (s *Store) StructureRubriques(ctx context.Context, structureID string) ([]payroll.StructureRubrique, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rubriqueColumns+`, sr.display_order
		FROM structure_rubriques sr
		JOIN rubriques r ON r.code = sr.rubrique_code
		WHERE sr.structure_id = ?
		ORDER BY sr.position`,
		structureID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query structure %s: %w", structureID, err)
	}
	defer rows.Close()

	var out []payroll.StructureRubrique
	for rows.Next() {
		var linkOrder sql.NullInt64
		r, err := scanRubrique(rows, &linkOrder)
		if err != nil {
			return nil, err
		}
		out = append(out, payroll.StructureRubrique{
			StructureID:  structureID,
			Rubrique:     r,
			DisplayOrder: intFromNull(linkOrder),
		})
	}
	return out, rows.Err()
}

// =============================================================================
// EMPLOYEES / CONTRACTS
// =============================================================================

// SaveEmployee saves an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email),
		emp.HireDate.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id string) (*payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emp, err := scanEmployee(s.db.QueryRowContext(ctx,
		"SELECT id, name, email, hire_date FROM employees WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListEmployees returns all employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, hire_date FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []payroll.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func scanEmployee(sc scanner) (payroll.Employee, error) {
	var (
		emp      payroll.Employee
		email    sql.NullString
		hireDate string
	)
	if err := sc.Scan(&emp.ID, &emp.Name, &email, &hireDate); err != nil {
		return emp, err
	}
	emp.Email = email.String
	d, err := payroll.ParseDate(hireDate)
	if err != nil {
		return emp, fmt.Errorf("employee %s hire date: %w", emp.ID, err)
	}
	emp.HireDate = d
	return emp, nil
}

// SaveContract inserts or updates a contract.
func (s *Store) SaveContract(ctx context.Context, c payroll.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO contracts (id, employee_id, wage, status, start_date, end_date, salary_structure_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			wage = excluded.wage,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			salary_structure_id = excluded.salary_structure_id
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.EmployeeID, c.Wage.String(), string(c.Status),
		c.StartDate.String(), nullDate(c.EndDate), nullStringPtr(c.SalaryStructureID),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save contract %s: %w", c.ID, err)
	}
	return nil
}

// ActiveContract returns the most recently started RUNNING contract
// covering asOf, or nil.
func (s *Store) ActiveContract(ctx context.Context, employeeID string, asOf payroll.Date) (*payroll.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c           payroll.Contract
		wage        string
		status      string
		start       string
		end         sql.NullString
		structureID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, wage, status, start_date, end_date, salary_structure_id
		FROM contracts
		WHERE employee_id = ? AND status = ?
		  AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date DESC, created_at DESC
		LIMIT 1`,
		employeeID, string(payroll.ContractRunning), asOf.String(), asOf.String(),
	).Scan(&c.ID, &c.EmployeeID, &wage, &status, &start, &end, &structureID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract: %w", err)
	}

	c.Status = payroll.ContractStatus(status)
	if c.Wage, err = decimal.NewFromString(wage); err != nil {
		return nil, fmt.Errorf("contract %s wage: %w", c.ID, err)
	}
	if c.StartDate, err = payroll.ParseDate(start); err != nil {
		return nil, fmt.Errorf("contract %s start: %w", c.ID, err)
	}
	if c.EndDate, err = dateFromNull(end); err != nil {
		return nil, fmt.Errorf("contract %s end: %w", c.ID, err)
	}
	if structureID.Valid {
		id := structureID.String
		c.SalaryStructureID = &id
	}
	return &c, nil
}

// =============================================================================
// INDIVIDUAL ASSIGNMENTS
// =============================================================================

// AssignRubrique inserts or updates an individual assignment.
func (s *Store) AssignRubrique(ctx context.Context, a payroll.EmployeeRubrique) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employee_rubriques (id, employee_id, rubrique_code, start_date, end_date,
			amount_override, rate_override, display_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rubrique_code = excluded.rubrique_code,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			amount_override = excluded.amount_override,
			rate_override = excluded.rate_override,
			display_order = excluded.display_order
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.EmployeeID, a.Rubrique.Code, a.StartDate.String(), nullDate(a.EndDate),
		nullDecimal(a.AmountOverride), nullDecimal(a.RateOverride), nullInt(a.Order),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to assign %s to %s: %w", a.Rubrique.Code, a.EmployeeID, err)
	}
	return nil
}

// IndividualAssignments returns the employee's assignments covering asOf,
// oldest first, joined with the current rubrique definitions.
func (s *Store) IndividualAssignments(ctx context.Context, employeeID string, asOf payroll.Date) ([]payroll.EmployeeRubrique, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rubriqueColumns+`,
		       er.id, er.start_date, er.end_date, er.amount_override, er.rate_override, er.display_order
		FROM employee_rubriques er
		JOIN rubriques r ON r.code = er.rubrique_code
		WHERE er.employee_id = ?
		  AND er.start_date <= ? AND (er.end_date IS NULL OR er.end_date >= ?)
		ORDER BY er.created_at, er.id`,
		employeeID, asOf.String(), asOf.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []payroll.EmployeeRubrique
	for rows.Next() {
		var (
			a              = payroll.EmployeeRubrique{EmployeeID: employeeID}
			start          string
			end            sql.NullString
			amountOverride sql.NullString
			rateOverride   sql.NullString
			order          sql.NullInt64
		)
		r, err := scanRubrique(rows, &a.ID, &start, &end, &amountOverride, &rateOverride, &order)
		if err != nil {
			return nil, err
		}
		a.Rubrique = r
		a.Order = intFromNull(order)
		if a.StartDate, err = payroll.ParseDate(start); err != nil {
			return nil, fmt.Errorf("assignment %s start: %w", a.ID, err)
		}
		if a.EndDate, err = dateFromNull(end); err != nil {
			return nil, fmt.Errorf("assignment %s end: %w", a.ID, err)
		}
		if a.AmountOverride, err = decimalFromNull(amountOverride); err != nil {
			return nil, fmt.Errorf("assignment %s amount: %w", a.ID, err)
		}
		if a.RateOverride, err = decimalFromNull(rateOverride); err != nil {
			return nil, fmt.Errorf("assignment %s rate: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// PARAMETERS (payroll.ParameterRepository)
// =============================================================================

const parameterColumns = "id, code, name, value, description, start_date, end_date"

// ParametersAt returns every parameter row covering asOf.
func (s *Store) ParametersAt(ctx context.Context, asOf payroll.Date) ([]payroll.PayrollParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryParameters(ctx, s.db, `
		SELECT `+parameterColumns+` FROM payroll_parameters
		WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY code, start_date`,
		asOf.String(), asOf.String(),
	)
}

// ParameterVersions returns the full history of a code, oldest first.
func (s *Store) ParameterVersions(ctx context.Context, code string) ([]payroll.PayrollParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryParameters(ctx, s.db, `
		SELECT `+parameterColumns+` FROM payroll_parameters
		WHERE code = ?
		ORDER BY start_date, created_at`,
		code,
	)
}

// SupersedeParameter closes the open version of p.Code at p.StartDate and
// inserts p, atomically.
func (s *Store) SupersedeParameter(ctx context.Context, p payroll.PayrollParameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		history, err := queryParameters(ctx, tx,
			"SELECT "+parameterColumns+" FROM payroll_parameters WHERE code = ? AND end_date IS NULL", p.Code)
		if err != nil {
			return err
		}
		closed, err := payroll.CloseOpenVersion(history, p)
		if err != nil {
			return err
		}
		for _, old := range closed {
			if _, err := tx.ExecContext(ctx,
				"UPDATE payroll_parameters SET end_date = ? WHERE id = ? AND end_date IS NULL",
				nullDate(old.EndDate), old.ID,
			); err != nil {
				return fmt.Errorf("failed to close parameter %s: %w", old.ID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO payroll_parameters (id, code, name, value, description, start_date, end_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Code, p.Name, p.Value.String(), nullString(p.Description),
			p.StartDate.String(), nullDate(p.EndDate), time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: parameter id %s already exists", payroll.ErrInvalidValidity, p.ID)
			}
			return fmt.Errorf("failed to insert parameter: %w", err)
		}
		return nil
	})
}

func queryParameters(ctx context.Context, db querier, query string, args ...any) ([]payroll.PayrollParameter, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameters: %w", err)
	}
	defer rows.Close()

	var out []payroll.PayrollParameter
	for rows.Next() {
		var (
			p           payroll.PayrollParameter
			value       string
			description sql.NullString
			start       string
			end         sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &value, &description, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan parameter: %w", err)
		}
		p.Description = description.String
		if p.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("parameter %s value: %w", p.Code, err)
		}
		if p.StartDate, err = payroll.ParseDate(start); err != nil {
			return nil, fmt.Errorf("parameter %s start: %w", p.Code, err)
		}
		if p.EndDate, err = dateFromNull(end); err != nil {
			return nil, fmt.Errorf("parameter %s end: %w", p.Code, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// TAX BRACKETS (payroll.TaxBracketRepository)
// =============================================================================

const bracketColumns = "id, name, min_amount, max_amount, rate, fixed_amount, bracket_order, start_date, end_date"

// ActiveTaxBrackets returns the latest bracket set covering asOf, ordered.
func (s *Store) ActiveTaxBrackets(ctx context.Context, asOf payroll.Date) ([]payroll.TaxBracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := queryBrackets(ctx, s.db, `
		SELECT `+bracketColumns+` FROM tax_brackets
		WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)`,
		asOf.String(), asOf.String(),
	)
	if err != nil {
		return nil, err
	}
	return payroll.LatestBracketSet(rows, asOf), nil
}

// AllTaxBrackets returns every bracket row, closed sets included.
func (s *Store) AllTaxBrackets(ctx context.Context) ([]payroll.TaxBracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryBrackets(ctx, s.db,
		"SELECT "+bracketColumns+" FROM tax_brackets ORDER BY start_date, bracket_order")
}

// ReplaceTaxBrackets closes the open set at validFrom and inserts brackets
// as the new set, atomically.
func (s *Store) ReplaceTaxBrackets(ctx context.Context, brackets []payroll.TaxBracket, validFrom payroll.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		open, err := queryBrackets(ctx, tx,
			"SELECT "+bracketColumns+" FROM tax_brackets WHERE end_date IS NULL")
		if err != nil {
			return err
		}
		if _, err := payroll.CloseOpenBrackets(open, validFrom); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tax_brackets SET end_date = ? WHERE end_date IS NULL", validFrom.String()); err != nil {
			return fmt.Errorf("failed to close bracket set: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339)
		for _, b := range brackets {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tax_brackets (id, name, min_amount, max_amount, rate, fixed_amount,
					bracket_order, start_date, end_date, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				b.ID, b.Name, b.MinAmount.String(), nullDecimal(b.MaxAmount), b.Rate.String(),
				b.FixedAmount.String(), b.Order, validFrom.String(), nullDate(b.EndDate), now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert bracket %s: %w", b.Name, err)
			}
		}
		return nil
	})
}

func queryBrackets(ctx context.Context, db querier, query string, args ...any) ([]payroll.TaxBracket, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tax brackets: %w", err)
	}
	defer rows.Close()

	var out []payroll.TaxBracket
	for rows.Next() {
		var (
			b                      payroll.TaxBracket
			minAmount, rate, fixed string
			maxAmount              sql.NullString
			start                  string
			end                    sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Name, &minAmount, &maxAmount, &rate, &fixed, &b.Order, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan tax bracket: %w", err)
		}
		if b.MinAmount, err = decimal.NewFromString(minAmount); err != nil {
			return nil, fmt.Errorf("bracket %s min: %w", b.ID, err)
		}
		if b.MaxAmount, err = decimalFromNull(maxAmount); err != nil {
			return nil, fmt.Errorf("bracket %s max: %w", b.ID, err)
		}
		if b.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("bracket %s rate: %w", b.ID, err)
		}
		if b.FixedAmount, err = decimal.NewFromString(fixed); err != nil {
			return nil, fmt.Errorf("bracket %s fixed amount: %w", b.ID, err)
		}
		if b.StartDate, err = payroll.ParseDate(start); err != nil {
			return nil, fmt.Errorf("bracket %s start: %w", b.ID, err)
		}
		if b.EndDate, err = dateFromNull(end); err != nil {
			return nil, fmt.Errorf("bracket %s end: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes all data. Used by the seed command.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"employee_rubriques", "structure_rubriques", "salary_structures", "contracts",
			"employees", "rubriques", "payroll_parameters", "tax_brackets",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullDate(d *payroll.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}

func decimalFromNull(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func dateFromNull(s sql.NullString) (*payroll.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := payroll.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
