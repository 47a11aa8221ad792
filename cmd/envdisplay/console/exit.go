package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func Exit(code int, msg string, args ...any) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitErr reports err in red after a short description of what failed.
func ExitErr(what string, err error) cli.ExitCoder {
	return Exit(1, "%s: %s", what, Red(err))
}
