// Package admincli implements the administrative command line: bootstrapping
// admin accounts directly against the database.
package admincli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/flagx"
	"github.com/dmitrijs2005/turbocore/internal/server/models"
)

var (
	ErrUsage            = errors.New("usage: admin create [-email address]")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// AdminCreator is the part of the user service the CLI needs.
type AdminCreator interface {
	CreateAdmin(ctx context.Context, email, password string) (*models.User, error)
}

// IO bundles the terminal the command talks to.
type IO struct {
	In      *bufio.Reader
	Out     io.Writer
	StdinFd int
}

// Run executes the command in args, without the program name.
func Run(ctx context.Context, args []string, svc AdminCreator, tio IO) error {
	if len(args) == 0 || args[0] != "create" {
		return ErrUsage
	}

	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "admin email")
	// Server flags such as -d may share the command line.
	if err := fs.Parse(flagx.FilterArgs(args[1:], []string{"-email"})); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if strings.TrimSpace(*email) == "" {
		var err error
		if *email, err = GetSimpleText(tio.In, "Admin email", tio.Out); err != nil {
			return err
		}
	}

	password, err := GetPassword(tio.Out, tio.StdinFd, "Password: ")
	if err != nil {
		return err
	}
	confirm, err := GetPassword(tio.Out, tio.StdinFd, "Repeat password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return ErrPasswordMismatch
	}

	admin, err := svc.CreateAdmin(ctx, *email, password)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(tio.Out, "Admin %s created (id %s)\n", admin.Email, admin.ID)
	return nil
}

func describe(err error) error {
	switch {
	case errors.Is(err, common.ErrEmailInUse):
		return errors.New("email already in use")
	case errors.Is(err, common.ErrWeakPassword):
		return errors.New("password is too weak")
	case errors.Is(err, common.ErrInvalidEmail):
		return errors.New("invalid email")
	}
	return err
}
