package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/puyokura/orbitchat/model"
)

// runConsole reads admin commands from in until "stop" or EOF. It reports
// whether "stop" was typed. Engine commands run as the configured console
// account, so they obey the same permission checks as chat commands.
func runConsole(in io.Reader, out io.Writer, hub *Hub) bool {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Server console ready. Type 'help' for commands.")
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]
		admin := hub.config.ConsoleAccount

		switch cmd {
		case "help":
			fmt.Fprintln(out, "Available commands: grant <id> <amount>, role <id> <role>, broadcast <msg>, kick <id>, ban <id>, unban <id>, stop")
		case "stop":
			fmt.Fprintln(out, "Stopping server...")
			return true
		case "grant":
			if len(args) != 2 {
				fmt.Fprintln(out, "Usage: grant <account id> <amount>")
				continue
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				fmt.Fprintln(out, "Amount must be a whole number.")
				continue
			}
			balance, err := hub.engine.Ledger.Grant(hub.ctx, admin, args[0], amount)
			if err != nil {
				fmt.Fprintln(out, "Error granting:", err)
				continue
			}
			fmt.Fprintf(out, "Granted. New balance: %d\n", balance)
			hub.notifyAccount(args[0], fmt.Sprintf("You received %d coins.", amount))
		case "role":
			if len(args) != 2 {
				fmt.Fprintln(out, "Usage: role <account id> <role>")
				continue
			}
			acct, err := hub.engine.Identity.AssignRole(hub.ctx, admin, args[0], model.Role(args[1]))
			if err != nil {
				fmt.Fprintln(out, "Error assigning role:", err)
				continue
			}
			fmt.Fprintf(out, "%s is now %s.\n", acct.DisplayName, acct.Role)
			hub.notifyAccount(acct.ID, "Your role is now "+string(acct.Role)+".")
		case "kick":
			if len(args) != 1 {
				fmt.Fprintln(out, "Usage: kick <account id>")
				continue
			}
			if hub.KickUser(args[0]) {
				fmt.Fprintln(out, "User kicked.")
			} else {
				fmt.Fprintln(out, "User not found.")
			}
		case "ban":
			if len(args) != 1 {
				fmt.Fprintln(out, "Usage: ban <account id>")
				continue
			}
			if err := hub.config.Ban(args[0]); err != nil {
				fmt.Fprintln(out, "Error banning:", err)
			} else {
				fmt.Fprintln(out, "User banned.")
				hub.KickUser(args[0])
			}
		case "unban":
			if len(args) != 1 {
				fmt.Fprintln(out, "Usage: unban <account id>")
				continue
			}
			if err := hub.config.Unban(args[0]); err != nil {
				fmt.Fprintln(out, "Error unbanning:", err)
			} else {
				fmt.Fprintln(out, "User unbanned.")
			}
		case "broadcast":
			if len(args) < 1 {
				fmt.Fprintln(out, "Usage: broadcast <message>")
				continue
			}
			hub.BroadcastSystemMessage("[Admin] " + strings.Join(args, " "))
			fmt.Fprintln(out, "Broadcast sent.")
		default:
			fmt.Fprintln(out, "Unknown command.")
		}
	}
	return false
}
