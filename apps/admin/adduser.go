package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			usr, err = cli.usrRepo.GetUserByUsernameOrEmail(ctx, email)
		}
		if err != nil && errors.Cause(err) != user.ErrNotFound {
			return err
		}
	}

	exists := usr.ID != ""
	usr.Username = uname
	usr.Email = email
	usr.IsActive = true
	usr.UpdatedAt = now
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	if exists {
		isActive := true
		_, err = cli.usrRepo.UpdateUser(ctx, usr, &isActive)
	} else {
		usr.CreatedAt = now
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
