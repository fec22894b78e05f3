package expense

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Responses shared by the command handlers.
const (
	msgAddUsage       = "Invalid input. Format: add <amount> <category> <description>\n"
	msgInvalidAmount  = "Invalid amount. Please enter a valid number.\n"
	msgNothingToShow  = "No expenses to show.\n"
	msgDeleteUsage    = "Error: Please provide an index to delete. Format: delete <index>\n"
	msgInvalidIndex   = "Invalid index. Please provide a valid expense number.\n"
	msgIndexNotNumber = "Error: Please provide a valid number for the index.\n"
	msgNothingReport  = "No expenses to report.\n"
	msgInvalidCommand = "Invalid command. Use 'add', 'view', 'delete', 'generate', or 'exit'.\n"
	msgGoodbye        = "Goodbye!\n"
)

// Tracker answers expense commands against a Store.
type Tracker struct {
	store      *Store
	reportPath string
	now        func() time.Time
}

// NewTracker returns a Tracker over store that writes reports into dataDir.
func NewTracker(store *Store, dataDir string) *Tracker {
	return &Tracker{
		store:      store,
		reportPath: filepath.Join(dataDir, ReportFileName),
		now:        time.Now,
	}
}

// Handle runs one command line and returns the response text. exit is true
// for the exit command, after which no further input should be read.
func (t *Tracker) Handle(line string) (response string, exit bool) {
	command := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(command, "add "):
		return t.Add(strings.Fields(command)[1:]), false
	case strings.HasPrefix(command, "view"):
		return t.View(strings.Fields(command)[1:]), false
	case strings.HasPrefix(command, "delete "):
		return t.Delete(strings.Fields(command)[1:]), false
	case command == "generate":
		return t.Generate(), false
	case command == "exit":
		return msgGoodbye, true
	default:
		return msgInvalidCommand, false
	}
}

// Add records an expense from [amount, category, description...].
func (t *Tracker) Add(args []string) string {
	if len(args) < 3 {
		return msgAddUsage
	}

	amount, err := ParseAmount(args[0])
	if err != nil {
		return msgInvalidAmount
	}

	e := Expense{
		Amount:      amount,
		Category:    args[1],
		Date:        t.now().Format("2006-01-02"),
		Description: strings.Join(args[2:], " "),
	}

	var prefix string
	if err := t.store.Append(e); err != nil {
		prefix = fmt.Sprintf("Error saving data: %v\n", err)
	}
	return fmt.Sprintf("%sExpense added successfully: %s %s - %s\n", prefix, e.Amount, e.Category, e.Description)
}

// View lists all expenses, or only those in the category given as the
// first argument. Numbering restarts at 1 for a filtered view.
func (t *Tracker) View(args []string) string {
	var category string
	if len(args) > 0 {
		category = args[0]
	}

	var b strings.Builder
	n := 0
	for _, e := range t.store.All() {
		if category != "" && e.Category != category {
			continue
		}
		if n == 0 {
			b.WriteString("Current expenses:\n")
		}
		n++
		fmt.Fprintf(&b, "%d. %s - %s: $%.2f (%s)\n", n, e.Date, e.Category, float64(e.Amount), e.Description)
	}

	if n == 0 {
		return msgNothingToShow
	}
	return b.String()
}

// Delete removes the expense with the 1-based index given as the first
// argument. The index refers to the unfiltered list.
func (t *Tracker) Delete(args []string) string {
	if len(args) == 0 {
		return msgDeleteUsage
	}

	index, err := strconv.Atoi(args[0])
	if errors.Is(err, strconv.ErrRange) {
		// Too large to be any position in the list.
		return msgInvalidIndex
	}
	if err != nil {
		return msgIndexNotNumber
	}

	removed, ok, err := t.store.RemoveAt(index - 1)
	if !ok {
		return msgInvalidIndex
	}

	var prefix string
	if err != nil {
		prefix = fmt.Sprintf("Error saving data: %v\n", err)
	}
	return fmt.Sprintf("%sDeleted: %s ($%.2f %s).\n", prefix, removed.Description, float64(removed.Amount), removed.Category)
}

// Report is the document written by Generate.
type Report struct {
	GeneratedAt string          `yaml:"generated_at"`
	Expenses    int             `yaml:"expenses"`
	Total       float64         `yaml:"total"`
	Categories  []CategoryTotal `yaml:"categories"`
}

// CategoryTotal is the spend of one category.
type CategoryTotal struct {
	Category string  `yaml:"category"`
	Amount   float64 `yaml:"amount"`
	Count    int     `yaml:"count"`
}

// BuildReport sums expenses per category, in order of first appearance.
func BuildReport(expenses []Expense, at time.Time) Report {
	r := Report{
		GeneratedAt: at.Format(time.RFC3339),
		Expenses:    len(expenses),
	}
	index := make(map[string]int)
	for _, e := range expenses {
		i, ok := index[e.Category]
		if !ok {
			i = len(r.Categories)
			index[e.Category] = i
			r.Categories = append(r.Categories, CategoryTotal{Category: e.Category})
		}
		r.Categories[i].Amount += float64(e.Amount)
		r.Categories[i].Count++
		r.Total += float64(e.Amount)
	}
	return r
}

// Generate writes the per-category report next to the data file.
func (t *Tracker) Generate() string {
	expenses := t.store.All()
	if len(expenses) == 0 {
		return msgNothingReport
	}

	data, err := yaml.Marshal(BuildReport(expenses, t.now()))
	if err != nil {
		return fmt.Sprintf("Error generating report: %v\n", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.reportPath), 0755); err != nil {
		return fmt.Sprintf("Error generating report: %v\n", err)
	}
	if err := os.WriteFile(t.reportPath, data, 0644); err != nil {
		return fmt.Sprintf("Error generating report: %v\n", err)
	}
	return fmt.Sprintf("Report generated successfully. Check '%s'.\n", t.reportPath)
}
