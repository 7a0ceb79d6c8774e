package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"

	"doctor-booking-api/internal/model"
	"doctor-booking-api/internal/rpc"
	"doctor-booking-api/internal/session"
)

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var req rpc.RegisterRequest
	fs.StringVar(&req.Fullname, "name", "", "full name")
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Role, "role", "", "Patient or Doctor")
	fs.StringVar(&req.Password, "password", "", "password, 6 characters or more")
	fs.StringVar(&req.Bio, "bio", "", "short bio")
	avatarPath := fs.String("avatar", "", "profile picture file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req.ConfirmPassword = req.Password

	if *avatarPath != "" {
		data, err := os.ReadFile(*avatarPath)
		if err != nil {
			return fmt.Errorf("read avatar: %w", err)
		}
		req.Avatar = data
		req.AvatarFilename = filepath.Base(*avatarPath)
	}

	// catch form mistakes before a round trip
	if err := rpc.Validate(&req); err != nil {
		return err
	}
	resp, err := a.client.Register(ctx, &req)
	if err != nil {
		return err
	}
	return a.signIn(ctx, resp)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var req rpc.LoginRequest
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := a.client.Login(ctx, &req)
	if err != nil {
		return err
	}
	return a.signIn(ctx, resp)
}

func (a *app) logout(ctx context.Context) error {
	// revoke server-side first; the local session goes either way
	err := a.call(ctx, func(ctx context.Context) error { return a.client.Logout(ctx) })
	if err != nil && !errors.Is(err, errNotSignedIn) {
		fmt.Fprintln(os.Stderr, "warning: server logout failed:", describe(err))
	}
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	p, err := a.session.Current(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return errNotSignedIn
	}
	fmt.Printf("%s <%s>\nrole: %s\nbio:  %s\n", p.Fullname, p.Email, p.Role, p.Bio)
	return nil
}

func (a *app) doctors(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctors", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "keep printing the list as it changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*watch {
		return a.call(ctx, func(ctx context.Context) error {
			resp, err := a.client.ListDoctors(ctx)
			if err != nil {
				return err
			}
			printDoctors(os.Stdout, resp.Doctors)
			return nil
		})
	}
	return a.watch(ctx, func(ctx context.Context) error {
		stream, err := a.client.WatchDoctors(ctx)
		if err != nil {
			return err
		}
		for {
			resp, err := stream.Recv()
			if err != nil {
				return err
			}
			printDoctors(os.Stdout, resp.Doctors)
		}
	})
}

func (a *app) doctor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	id := fs.String("id", "", "doctor id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.call(ctx, func(ctx context.Context) error {
		resp, err := a.client.GetDoctor(ctx, &rpc.GetDoctorRequest{ID: *id})
		if err != nil {
			return err
		}
		d := resp.Doctor
		fmt.Printf("%s\nid:   %s\nbio:  %s\n", d.Fullname, d.ID, d.Bio)
		if resp.HasAppointment {
			fmt.Println("you have an appointment with this doctor")
		}
		return nil
	})
}

func (a *app) appointments(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("appointments", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "keep printing the list as it changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*watch {
		return a.call(ctx, func(ctx context.Context) error {
			resp, err := a.client.ListAppointments(ctx)
			if err != nil {
				return err
			}
			printAppointments(os.Stdout, resp.Appointments)
			return nil
		})
	}
	return a.watch(ctx, func(ctx context.Context) error {
		stream, err := a.client.WatchAppointments(ctx)
		if err != nil {
			return err
		}
		for {
			resp, err := stream.Recv()
			if err != nil {
				return err
			}
			printAppointments(os.Stdout, resp.Appointments)
		}
	})
}

func (a *app) book(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	doctorID := fs.String("doctor", "", "doctor id")
	key := fs.String("key", "", "idempotency key (default: a fresh one, so retries of this run are safe)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		*key = uuid.NewString()
	}
	return a.call(ctx, func(ctx context.Context) error {
		resp, err := a.client.CreateAppointment(ctx, &rpc.CreateAppointmentRequest{DoctorID: *doctorID, IdempotencyKey: *key})
		if err != nil {
			return err
		}
		fmt.Printf("booked %s with %s (chat: %s)\n", resp.Appointment.ID, resp.Appointment.DoctorName, resp.ChatOutcome)
		return nil
	})
}

// watch runs a streaming call under the session context so that a logout
// ends it, and treats Ctrl-C as a clean exit.
func (a *app) watch(ctx context.Context, fn func(ctx context.Context) error) error {
	sctx := a.session.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sctx, cancel)
	defer stop()
	a.session.Track(session.CancelFunc(cancel))

	err := a.call(ctx, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printDoctors(w io.Writer, doctors []model.UserProfile) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBIO")
	for _, d := range doctors {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Fullname, d.Bio)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}

func printAppointments(w io.Writer, list []model.DisplayAppointment) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no appointments")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APPOINTMENT\tWITH\tBIO")
	for _, ap := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ap.AppointmentID, ap.Fullname, ap.Bio)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}
