// Command ticketpilotctl administers a ticketpilot data directory from the
// shell: tracker credentials, conversation threads, and knowledge documents.
// It operates on the SQLite files directly and must not run while the daemon
// holds them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"golang.org/x/term"

	"ticketpilot/pkg/creds"
	"ticketpilot/pkg/knowledge"
	"ticketpilot/pkg/proto"
	"ticketpilot/pkg/store"
	"ticketpilot/pkg/ticket"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ticketpilotctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() error {
	fmt.Fprint(os.Stderr, `Usage: ticketpilotctl <command> [flags]

Commands:
  creds add      store a tracker credential (secret prompted, never echoed)
  creds ls       list a user's credentials
  creds rm       remove a credential
  threads ls     list a user's conversation threads
  threads rm     delete a thread and its history
  kb add         add a knowledge document from a file
  kb rm          remove a knowledge document

Common flags:
  -data <dir>    data directory (default "data")
  -user <id>     acting user id
`)
	return fmt.Errorf("missing or unknown command")
}

func run(args []string) error {
	if len(args) < 2 {
		return usage()
	}

	ctx := context.Background()
	group, cmd := args[0], args[1]
	rest := args[2:]

	switch group + " " + cmd {
	case "creds add":
		return credsAdd(ctx, rest)
	case "creds ls":
		return credsList(ctx, rest)
	case "creds rm":
		return credsRemove(ctx, rest)
	case "threads ls":
		return threadsList(ctx, rest)
	case "threads rm":
		return threadsRemove(ctx, rest)
	case "kb add":
		return knowledgeAdd(ctx, rest)
	case "kb rm":
		return knowledgeRemove(ctx, rest)
	default:
		return usage()
	}
}

func openCreds(dataDir string) (*creds.Store, error) {
	keyHex := os.Getenv("TICKETPILOT_CREDENTIAL_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("TICKETPILOT_CREDENTIAL_KEY is not set")
	}
	key, err := creds.KeyFromHex(keyHex)
	if err != nil {
		return nil, err
	}
	return creds.Open(filepath.Join(dataDir, "credentials.db"), key)
}

func credsAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("creds add", flag.ExitOnError)
	dataDir := fs.String("data", "data", "data directory")
	user := fs.String("user", "", "user id")
	tracker := fs.String("tracker", "", "tracker type (jira or azure)")
	domain := fs.String("domain", "", "Jira site domain or Azure DevOps organization URL")
	email := fs.String("email", "", "account email (Jira basic auth user)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *tracker == "" || *domain == "" {
		return fmt.Errorf("creds add requires -user, -tracker, and -domain")
	}
	trackerType := ticket.TrackerType(*tracker)
	if trackerType != ticket.TrackerJira && trackerType != ticket.TrackerAzure {
		return fmt.Errorf("tracker must be jira or azure")
	}

	fmt.Fprint(os.Stderr, "API token: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	if len(secret) == 0 {
		return fmt.Errorf("empty secret")
	}

	st, err := openCreds(*dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.Put(ctx, ticket.Credential{
		UserID:  *user,
		Tracker: trackerType,
		Domain:  *domain,
		Email:   *email,
		Secret:  string(secret),
	})
	if err != nil {
		return err
	}
	fmt.Printf("stored credential %s\n", id)
	return nil
}

func credsList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("creds ls", flag.ExitOnError)
	dataDir := fs.String("data", "data", "data directory")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("creds ls requires -user")
	}

	st, err := openCreds(*dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.List(ctx, *user)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRACKER\tDOMAIN\tEMAIL")
	for _, cred := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", cred.Tracker, cred.Domain, cred.Email)
	}
	return w.Flush()
}

func credsRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("creds rm", flag.ExitOnError)
	dataDir := fs.String("data", "data", "data directory")
	user := fs.String("user", "", "user id")
	tracker := fs.String("tracker", "", "tracker type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *tracker == "" {
		return fmt.Errorf("creds rm requires -user and -tracker")
	}

	st, err := openCreds(*dataDir)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Delete(ctx, *user, ticket.TrackerType(*tracker))
}

func threadsList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("threads ls", flag.ExitOnError)
	dataDir := fs.String("data", "data", "data directory")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("threads ls requires -user")
	}

	st, err := store.Open(filepath.Join(*dataDir, "threads.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	threads, err := st.List(ctx, *user)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTITLE")
	for _, th := range threads {
		fmt.Fprintf(w, "%s\t%s\t%s\n", th.ID, th.UpdatedAt.Format("2006-01-02 15:04"), th.Title)
	}
	return w.Flush()
}

func threadsRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("threads rm", flag.ExitOnError)
	dataDir := fs.String("data", "data", "data directory")
	user := fs.String("user", "", "user id")
	id := fs.String("id", "", "thread id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *id == "" {
		return fmt.Errorf("threads rm requires -user and -id")
	}

	st, err := store.Open(filepath.Join(*dataDir, "threads.db"))
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Delete(ctx, *id, *user)
}

func knowledgeAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kb add", flag.ExitOnError)
	dataDir := fs.String("data", "data", "data directory")
	project := fs.String("project", "", "project id the document belongs to")
	file := fs.String("file", "", "path to the document file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("kb add requires -file")
	}

	content, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	st, err := knowledge.Open(filepath.Join(*dataDir, "knowledge.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.Add(ctx, *project, proto.Document{
		Source:  filepath.Base(*file),
		Content: string(content),
	})
	if err != nil {
		return err
	}
	fmt.Printf("added document %s\n", id)
	return nil
}

func knowledgeRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kb rm", flag.ExitOnError)
	dataDir := fs.String("data", "data", "data directory")
	id := fs.String("id", "", "document id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("kb rm requires -id")
	}

	st, err := knowledge.Open(filepath.Join(*dataDir, "knowledge.db"))
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Delete(ctx, *id)
}
