package command

import (
	"errors"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourusername/demo-security/internal/users"
)

func prompt(cmd *cobra.Command, prompt string, mask bool) ([]byte, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if _, err := io.WriteString(cmd.ErrOrStderr(), prompt); err != nil {
			return nil, err
		}
		if mask {
			line, err := term.ReadPassword(int(f.Fd()))
			_, _ = io.WriteString(cmd.ErrOrStderr(), "\n")
			return line, err
		}
	}
	return readLine(in)
}

// term.readPasswordLine を元にした1行読み取り
func readLine(r io.Reader) ([]byte, error) {
	var buf [1]byte
	var ret []byte

	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			switch buf[0] {
			case '\b':
				if len(ret) > 0 {
					ret = ret[:len(ret)-1]
				}
			case '\n':
				if runtime.GOOS != "windows" {
					return ret, nil
				}
			case '\r':
				if runtime.GOOS == "windows" {
					return ret, nil
				}
			default:
				ret = append(ret, buf[0])
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(ret) > 0 {
				return ret, nil
			}
			return ret, err
		}
	}
}

func loadSettings(cmd *cobra.Command) (*settings, error) {
	s, ok := cmd.Context().Value(settingsKey{}).(*settings)
	if !ok {
		return nil, errors.New("configuration resolution failed")
	}
	return s, nil
}

func openRepository(cmd *cobra.Command) (*settings, *users.SQLiteRepository, func() error, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := users.Open(s.dbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	repo := users.NewRepository(db)
	if err := repo.Migrate(cmd.Context()); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return s, repo, db.Close, nil
}
