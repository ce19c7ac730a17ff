package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	ossignal "os/signal"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/nearby/internal/account"
	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/share"
	"github.com/matheus3301/nearby/internal/tui/client"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fail("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(account.SocketPath(accountName))
	if err != nil {
		fail("cannot connect to daemon for account %q: %v", accountName, err)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "nearby":
		cmdNearby(ctx, c, out)
	case "online":
		cmdOnline(ctx, c, out, args[1:])
	case "drain":
		cmdDrain(ctx, c, out)
	case "queue":
		cmdQueue(ctx, c, out)
	case "send":
		need(args, 3, "send <user> <text...>")
		msg, err := c.SendMessage(ctx, args[1], strings.Join(args[2:], " "))
		out.message(msg, err)
	case "resend":
		need(args, 2, "resend <message-id>")
		msg, err := c.ResendMessage(ctx, args[1])
		out.message(msg, err)
	case "read":
		need(args, 2, "read <message-id>")
		msg, err := c.MarkRead(ctx, args[1])
		out.message(msg, err)
	case "messages":
		peer := ""
		if len(args) > 1 {
			peer = args[1]
		}
		cmdMessages(ctx, c, out, peer)
	case "connect":
		need(args, 2, "connect <user>")
		conn, err := c.RequestConnection(ctx, args[1])
		out.connection(conn, err)
	case "respond":
		need(args, 3, "respond <connection-id> <accept|decline>")
		conn, err := c.RespondConnection(ctx, args[1], parseAnswer(args[2]))
		out.connection(conn, err)
	case "connections":
		cmdConnections(ctx, c, out)
	case "propose":
		cmdPropose(ctx, c, out, args[1:])
	case "meetup":
		cmdMeetup(ctx, c, out, args[1:])
	case "meetups":
		cmdMeetups(ctx, c, out)
	case "scan":
		cmdScan(ctx, c, out, args[1:])
	case "permission":
		if len(args) < 3 || args[1] != "reset" {
			usage("permission reset <bluetooth|location>")
		}
		st, err := c.ResetPermission(ctx, args[2])
		out.status(st, err)
	case "profile":
		cmdProfile(ctx, c, out, args[1:])
	case "share":
		cmdShare(ctx, c, out)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: nearbyctl [--account <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                              Show daemon status")
	fmt.Fprintln(os.Stderr, "  nearby                              List nearby users, closest first")
	fmt.Fprintln(os.Stderr, "  online <on|off>                     Force connectivity")
	fmt.Fprintln(os.Stderr, "  drain                               Deliver queued actions now")
	fmt.Fprintln(os.Stderr, "  queue                               List queued actions")
	fmt.Fprintln(os.Stderr, "  send <user> <text...>               Send a message")
	fmt.Fprintln(os.Stderr, "  resend <message-id>                 Resend a failed message")
	fmt.Fprintln(os.Stderr, "  read <message-id>                   Mark a message read")
	fmt.Fprintln(os.Stderr, "  messages [user]                     List messages")
	fmt.Fprintln(os.Stderr, "  connect <user>                      Send a connection request")
	fmt.Fprintln(os.Stderr, "  respond <id> <accept|decline>       Answer a connection request")
	fmt.Fprintln(os.Stderr, "  connections                         List connections")
	fmt.Fprintln(os.Stderr, "  propose <user> <venue> <when> [msg] Propose a meetup (when: RFC3339 or +2h)")
	fmt.Fprintln(os.Stderr, "    -type <kind> -at <lat,lon>        Venue type and position (-address, -rating also accepted)")
	fmt.Fprintln(os.Stderr, "  meetup respond <id> <accept|decline>")
	fmt.Fprintln(os.Stderr, "  meetup complete <id>")
	fmt.Fprintln(os.Stderr, "  meetups                             List meetups")
	fmt.Fprintln(os.Stderr, "  scan <start|stop>                   Control the radar")
	fmt.Fprintln(os.Stderr, "  permission reset <capability>       Ask for a denied permission again")
	fmt.Fprintln(os.Stderr, "  profile [set <field>=<value>...]    Show or edit the local profile")
	fmt.Fprintln(os.Stderr, "  share                               Print the profile link as a QR code")
	fmt.Fprintln(os.Stderr, "  watch [prefix...]                   Stream daemon events")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func usage(line string) {
	fmt.Fprintln(os.Stderr, "usage: nearbyctl "+line)
	os.Exit(1)
}

func need(args []string, n int, line string) {
	if len(args) < n {
		usage(line)
	}
}

func parseAnswer(s string) bool {
	switch strings.ToLower(s) {
	case "accept", "yes", "y":
		return true
	case "decline", "no", "n":
		return false
	}
	fail("answer must be accept or decline, got %q", s)
	return false
}

// output prints results as text or, with --json, as indented JSON.
type output struct {
	json bool
}

func (o output) emit(v any, text func()) {
	if o.json {
		outputJSON(v)
		return
	}
	text()
}

func (o output) status(st *api.StatusReply, err error) {
	if err != nil {
		fail("%v", err)
	}
	o.emit(st, func() {
		fmt.Printf("Account:      %s (%s)\n", st.Account, st.Self)
		fmt.Printf("Tier:         %s\n", st.Tier)
		fmt.Printf("Backend:      %s\n", st.Backend)
		forced := ""
		if st.ForcedOffline {
			forced = " (forced)"
		}
		fmt.Printf("Connectivity: %s%s\n", st.Connectivity, forced)
		fmt.Printf("Queue:        %d pending, draining=%v\n", st.Pending, st.Draining)
		fmt.Printf("Radar:        %s, scanning=%v, %d nearby\n", st.Source, st.Scanning, st.Nearby)
		if st.LastSync != nil {
			fmt.Printf("Last sync:    %s\n", st.LastSync.Local().Format(time.DateTime))
		}
		caps := make([]string, 0, len(st.Permissions))
		for c := range st.Permissions {
			caps = append(caps, c)
		}
		sort.Strings(caps)
		for _, c := range caps {
			fmt.Printf("Permission:   %s=%s\n", c, st.Permissions[c])
		}
	})
}

func (o output) message(m *api.Message, err error) {
	if err != nil {
		fail("%v", err)
	}
	o.emit(m, func() { printMessage(*m) })
}

func (o output) connection(c *domain.Connection, err error) {
	if err != nil {
		fail("%v", err)
	}
	o.emit(c, func() { printConnection(*c) })
}

func (o output) meetup(m *domain.Meetup, err error) {
	if err != nil {
		fail("%v", err)
	}
	o.emit(m, func() { printMeetup(*m) })
}

func cmdStatus(ctx context.Context, c *client.Client, out output) {
	st, err := c.GetStatus(ctx)
	out.status(st, err)
}

func cmdNearby(ctx context.Context, c *client.Client, out output) {
	users, err := c.ListNearby(ctx)
	if err != nil {
		fail("%v", err)
	}
	out.emit(users, func() {
		if len(users) == 0 {
			fmt.Println("Nobody nearby.")
			return
		}
		for i, u := range users {
			dist := "      -"
			if u.Ranged {
				dist = fmt.Sprintf("%6.2fm", u.Distance)
			}
			fmt.Printf("%2d. %s  %-20s %s\n", i+1, dist, u.Name, strings.Join(u.Interests, ", "))
		}
	})
}

func cmdOnline(ctx context.Context, c *client.Client, out output, args []string) {
	if len(args) < 1 {
		usage("online <on|off>")
	}
	var online bool
	switch args[0] {
	case "on", "true":
		online = true
	case "off", "false":
	default:
		usage("online <on|off>")
	}
	st, err := c.SetOnline(ctx, online)
	out.status(st, err)
}

func cmdDrain(ctx context.Context, c *client.Client, out output) {
	res, err := c.Drain(ctx)
	if err != nil {
		fail("%v", err)
	}
	out.emit(res, func() {
		if res.Skipped {
			fmt.Println("Drain skipped: offline or already draining.")
			return
		}
		fmt.Printf("Attempted %d: %d delivered, %d retrying, %d dropped\n",
			res.Attempted, res.Delivered, res.Retrying, res.Dropped)
	})
}

func cmdQueue(ctx context.Context, c *client.Client, out output) {
	actions, err := c.ListQueue(ctx)
	if err != nil {
		fail("%v", err)
	}
	out.emit(actions, func() {
		if len(actions) == 0 {
			fmt.Println("Queue is empty.")
			return
		}
		for _, a := range actions {
			fmt.Printf("%s  %-10s %-7s retries=%d  %s\n",
				a.ID, a.Entity, a.Operation, a.RetryCount, a.EnqueuedAt.Local().Format(time.DateTime))
		}
	})
}

func cmdMessages(ctx context.Context, c *client.Client, out output, peer string) {
	msgs, err := c.ListMessages(ctx, peer)
	if err != nil {
		fail("%v", err)
	}
	out.emit(msgs, func() {
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return
		}
		for _, m := range msgs {
			printMessage(m)
		}
	})
}

func printMessage(m api.Message) {
	read := ""
	if m.ReadAt != nil {
		read = " read"
	}
	fmt.Printf("%s  %s -> %s  [%s%s]  %s\n",
		m.CreatedAt.Local().Format(time.DateTime), m.SenderID, m.ReceiverID, m.State, read, m.Content)
	fmt.Printf("    id=%s\n", m.ID)
}

func cmdConnections(ctx context.Context, c *client.Client, out output) {
	conns, err := c.ListConnections(ctx)
	if err != nil {
		fail("%v", err)
	}
	out.emit(conns, func() {
		if len(conns) == 0 {
			fmt.Println("No connections.")
			return
		}
		for _, conn := range conns {
			printConnection(conn)
		}
	})
}

func printConnection(c domain.Connection) {
	fmt.Printf("%s  %s -> %s  %s\n", c.ID, c.FromUserID, c.ToUserID, c.Status)
}

func cmdPropose(ctx context.Context, c *client.Client, out output, args []string) {
	const line = "propose [-type kind] [-at lat,lon] [-address text] [-rating n] <user> <venue> <when> [message...]"
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	kind := fs.String("type", "other", "venue type: "+strings.Join(venueTypes, ", "))
	at := fs.String("at", "", "venue position as lat,lon")
	address := fs.String("address", "", "venue street address")
	rating := fs.Float64("rating", 0, "venue rating from 0 to 5")
	_ = fs.Parse(args)
	args = fs.Args()
	if len(args) < 3 {
		usage(line)
	}
	venue, err := parseVenue(args[1], *kind, *at, *address, *rating)
	if err != nil {
		fail("%v", err)
	}
	when, err := parseWhen(args[2], time.Now())
	if err != nil {
		fail("%v", err)
	}
	m, err := c.ProposeMeetup(ctx, api.ProposeMeetupRequest{
		To:      args[0],
		Venue:   venue,
		Time:    when,
		Message: strings.Join(args[3:], " "),
	})
	out.meetup(m, err)
}

var venueTypes = []string{"coffee", "restaurant", "park", "bar", "cafe", "other"}

// parseVenue builds a venue from the propose flags. at is "lat,lon" or empty.
func parseVenue(name, kind, at, address string, rating float64) (domain.Venue, error) {
	v := domain.Venue{
		Name:    strings.TrimSpace(name),
		Type:    strings.ToLower(kind),
		Address: address,
		Rating:  rating,
	}
	if v.Name == "" {
		return domain.Venue{}, fmt.Errorf("venue name is required")
	}
	if !slices.Contains(venueTypes, v.Type) {
		return domain.Venue{}, fmt.Errorf("unknown venue type %q (want one of %s)", kind, strings.Join(venueTypes, ", "))
	}
	if rating < 0 || rating > 5 {
		return domain.Venue{}, fmt.Errorf("rating %v out of range 0..5", rating)
	}
	if at != "" {
		lat, lon, ok := strings.Cut(at, ",")
		if !ok {
			return domain.Venue{}, fmt.Errorf("bad position %q, want lat,lon", at)
		}
		var err error
		if v.Coordinates.Latitude, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil || math.Abs(v.Coordinates.Latitude) > 90 {
			return domain.Venue{}, fmt.Errorf("bad latitude %q", lat)
		}
		if v.Coordinates.Longitude, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil || math.Abs(v.Coordinates.Longitude) > 180 {
			return domain.Venue{}, fmt.Errorf("bad longitude %q", lon)
		}
	}
	return v, nil
}

// parseWhen accepts an RFC3339 time or an offset from now such as "+90m".
func parseWhen(s string, now time.Time) (time.Time, error) {
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad offset %q: %w", s, err)
		}
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t, nil
}

func cmdMeetup(ctx context.Context, c *client.Client, out output, args []string) {
	if len(args) < 2 {
		usage("meetup <respond|complete> <id> [accept|decline]")
	}
	switch args[0] {
	case "respond":
		if len(args) < 3 {
			usage("meetup respond <id> <accept|decline>")
		}
		m, err := c.RespondMeetup(ctx, args[1], parseAnswer(args[2]))
		out.meetup(m, err)
	case "complete":
		m, err := c.CompleteMeetup(ctx, args[1])
		out.meetup(m, err)
	default:
		usage("meetup <respond|complete> <id> [accept|decline]")
	}
}

func cmdMeetups(ctx context.Context, c *client.Client, out output) {
	meetups, err := c.ListMeetups(ctx)
	if err != nil {
		fail("%v", err)
	}
	out.emit(meetups, func() {
		if len(meetups) == 0 {
			fmt.Println("No meetups.")
			return
		}
		for _, m := range meetups {
			printMeetup(m)
		}
	})
}

func printMeetup(m domain.Meetup) {
	fmt.Printf("%s  %s -> %s  %s at %s  %s\n",
		m.ID, m.ProposerID, m.RecipientID, m.Venue.Name, m.ProposedTime.Local().Format(time.DateTime), m.Status)
}

func cmdScan(ctx context.Context, c *client.Client, out output, args []string) {
	if len(args) < 1 {
		usage("scan <start|stop>")
	}
	var (
		st  *api.StatusReply
		err error
	)
	switch args[0] {
	case "start":
		st, err = c.StartScan(ctx)
	case "stop":
		st, err = c.StopScan(ctx)
	default:
		usage("scan <start|stop>")
	}
	out.status(st, err)
}

func cmdProfile(ctx context.Context, c *client.Client, out output, args []string) {
	if len(args) == 0 {
		p, err := c.GetProfile(ctx)
		if err != nil {
			fail("%v", err)
		}
		out.emit(p, func() { printProfile(*p) })
		return
	}
	if args[0] != "set" || len(args) < 2 {
		usage("profile [set <field>=<value>...]")
	}
	fields, err := parseFields(args[1:])
	if err != nil {
		fail("%v", err)
	}
	p, err := c.UpdateProfile(ctx, fields)
	if err != nil {
		fail("%v", err)
	}
	out.emit(p, func() { printProfile(*p) })
}

// parseFields turns field=value pairs into an update. Values that parse as
// JSON keep their type, so age=31 is a number and interests='["Art"]' a list.
func parseFields(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected field=value, got %q", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[key] = v
	}
	return fields, nil
}

func printProfile(p domain.Profile) {
	fmt.Printf("ID:        %s\n", p.ID)
	fmt.Printf("Name:      %s\n", p.Name)
	if p.Age > 0 {
		fmt.Printf("Age:       %d\n", p.Age)
	}
	if p.Gender != "" {
		fmt.Printf("Gender:    %s\n", p.Gender)
	}
	if p.Bio != "" {
		fmt.Printf("Bio:       %s\n", p.Bio)
	}
	fmt.Printf("Interests: %s\n", strings.Join(p.Interests, ", "))
	fmt.Printf("Online:    %v\n", p.IsOnline)
}

func cmdShare(ctx context.Context, c *client.Client, out output) {
	p, err := c.GetProfile(ctx)
	if err != nil {
		fail("%v", err)
	}
	link := share.Link(p.ID)
	if out.json {
		outputJSON(map[string]string{"link": link})
		return
	}
	qr, err := share.QR(link, "  ")
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("\n%s\n  %s\n", qr, link)
}

// cmdWatch prints events until interrupted.
func cmdWatch(c *client.Client, prefixes []string) {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events, err := c.WatchEvents(ctx, prefixes...)
	if err != nil {
		fail("%v", err)
	}
	for evt := range events {
		fmt.Printf("%s  %-24s %s\n", evt.Timestamp.Local().Format("15:04:05.000"), evt.Kind, evt.Payload)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
