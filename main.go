package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"drawarm/arm"
	"drawarm/comms"
	"drawarm/firmware"
	"drawarm/serial"
)

type EnvConfig struct {
	JWT_ISSUER string `env:"DRAWARM_DEVICE_ID" envDefault:"DEV"`
	JWT_SECRET string `env:"DRAWARM_JWT_SECRET" envDefault:"dev-secret-change-me"`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	SRCDIR     string `env:"SRCDIR" envDefault:"."`
	HTMLDIR    string `env:"HTMLDIR" envDefault:"./frontend/dist/"`
	DBFILE     string `env:"DBFILE" envDefault:"./tmp/drawarm.db"`
	DB         *storm.DB
	Controller *arm.Controller
	Conductor  *comms.Conductor
	Simulated  bool
}

var (
	ENV *EnvConfig
)

func init() {
	// Load main config
	ENV = new(EnvConfig)
	env.Parse(ENV)

	// setup database
	dbFile, _ := filepath.Abs(ENV.DBFILE)
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.MkdirAll(dir, 0755)
	}

	db, err := openDb(dbFile)
	if err != nil {
		panic(err)
	}
	ENV.DB = db

	return
}

func main() {
	// process flags
	simulated := flag.Bool("sim", false, "Run against a simulated arm instead of a serial port")
	port := flag.String("port", "0.0.0.0:8080", "Specify the ip:port to listen on")
	configPath := flag.String("config", "", "Path to the arm yaml config")
	flag.Parse()

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	defer ENV.DB.Close() // close database when finished

	cfg := loadArmConfig(*configPath)

	ENV.Simulated = *simulated
	var open firmware.OpenFunc
	if ENV.Simulated {
		println("Running against the simulated arm")
		open = func() (serial.Transport, error) {
			return serial.NewPort("sim", firmware.NewSim()), nil
		}
	}

	controller, err := arm.NewController(cfg, open)
	if err != nil {
		panic(fmt.Sprintf("Unable to initialize the arm controller: %v", err))
	}
	controller.Start()
	defer controller.Stop()
	ENV.Controller = controller

	ENV.Conductor = comms.NewConductor(controller)
	go ENV.Conductor.UpdateClients()
	defer ENV.Conductor.Stop()

	//---
	// Create a local shell
	//---
	{
		shell := ishell.New()
		shell.Println("drawarm development shell")
		shell.ShowPrompt(true)
		shell.AddCmd(&ishell.Cmd{
			Name: "createsuperuser",
			Help: "createsuperuser <email> <password>",
			Func: func(c *ishell.Context) {
				// disable the '>>>' for cleaner same line input.
				c.ShowPrompt(false)
				defer c.ShowPrompt(true) // yes, revert when done.

				// get email
				var email string
				if len(c.Args) >= 1 {
					email = c.Args[0]
				} else {
					c.Print("Email: ")
					email = c.ReadLine()
				}

				// get password
				var password string
				if len(c.Args) >= 2 {
					password = c.Args[1]
				} else {
					c.Print("Password: ")
					password = c.ReadPassword()
				}

				// create user
				user := &User{
					Email: email,
					Name:  email,
					Admin: true,
				}
				user.SetPassword([]byte(password))
				err := ENV.DB.Save(user)
				if err != nil {
					panic(err)
				}

				c.Println("Superuser created")
			},
		})

		// Add device specific commands
		shell.AddCmd(&ishell.Cmd{
			Name: "move",
			Help: "move <x mm> <y mm> <z mm>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 3 {
					c.Err(fmt.Errorf("usage: move <x> <y> <z>"))
					return
				}
				x, _ := strconv.ParseFloat(c.Args[0], 64)
				y, _ := strconv.ParseFloat(c.Args[1], 64)
				z, _ := strconv.ParseFloat(c.Args[2], 64)
				c.Printf("Moving to X:%.1f Y:%.1f Z:%.1f\n", x, y, z)
				ticket, err := controller.SubmitMove(x, y, z)
				if err != nil {
					c.Err(err)
					return
				}
				if err := ticket.Wait(); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "grip",
			Help: "grip <open|close>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Err(fmt.Errorf("usage: grip <open|close>"))
					return
				}
				ticket, err := controller.SubmitGripper(c.Args[0] == "open")
				if err != nil {
					c.Err(err)
					return
				}
				if err := ticket.Wait(); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "joint",
			Help: "joint <id 1-6> <angle deg>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 2 {
					c.Err(fmt.Errorf("usage: joint <id> <angle>"))
					return
				}
				id, _ := strconv.Atoi(c.Args[0])
				angle, _ := strconv.ParseFloat(c.Args[1], 64)
				c.Printf("Moving joint %d to %.1f\n", id, angle)
				ticket, err := controller.SubmitJoint(id, angle)
				if err != nil {
					c.Err(err)
					return
				}
				if err := ticket.Wait(); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "stop",
			Help: "flush every queued command",
			Func: func(c *ishell.Context) {
				c.Printf("Flushed %d queued commands\n", controller.EmergencyStop())
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "state",
			Help: "Reads the current connection state",
			Func: func(c *ishell.Context) {
				c.Printf("connection: %s port: %s queued: %d\n",
					controller.ConnectionState(), controller.PortName(), controller.QueueDepth())
				if err := controller.LastError(); err != nil {
					c.Printf("last error: %v\n", err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "retry",
			Help: "skip the reconnect backoff and retry now",
			Func: func(c *ishell.Context) {
				controller.Retry()
			},
		})

		// Start an instance of the shell so it can be controlled from the CLI
		go shell.Start()
	}

	//---
	// Build the API routes
	//---
	r.Route("/api", func(r chi.Router) {
		// login
		r.Post("/login", Login)

		r.Route("/", func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			if !ENV.DEBUG {
				r.Use(RequireAuth)
			}

			r.Get("/refresh_token", RefreshToken)
			r.Get("/status", StatusHandler)
			r.Post("/drawing", DrawingHandler)
		})

	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			r.Use(RequireAuth)
		} else {
			fmt.Println("Running in debug mode. Authentication disabled.")
		}

		r.Get("/echo", EchoHandler)
		r.Get("/control", ControlSocketHandler)
	})

	// add static base routes
	FileServer(r, "/", http.Dir(ENV.HTMLDIR))

	fmt.Println("Listening on port", *port)
	if err := http.ListenAndServe(*port, r); err != nil {
		log.Fatal(err)
	}
}

// loadArmConfig reads the yaml device config, falling back to factory
// defaults when no file is present and none was asked for.
func loadArmConfig(path string) arm.Config {
	explicit := path != ""
	if path == "" {
		path = filepath.Join(ENV.SRCDIR, "drawarm.yaml")
	}

	cfg, err := arm.LoadConfig(path)
	if err != nil {
		if explicit {
			panic(fmt.Sprintf("Unable to load config %s: %v", path, err))
		}
		log.Printf("no config at %s, using defaults", path)
		return arm.DefaultConfig()
	}
	return cfg
}

// StatusHandler reports the connection state for dashboards and probes.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	state := comms.StatePayload{
		State:      ENV.Controller.ConnectionState().String(),
		Port:       ENV.Controller.PortName(),
		QueueDepth: ENV.Controller.QueueDepth(),
	}
	if err := ENV.Controller.LastError(); err != nil {
		state.LastError = err.Error()
	}
	render.JSON(w, r, state)
}

// DrawingPayload is an HTTP drawing submission.
type DrawingPayload struct {
	Elements []comms.ElementPayload `json:"elements"`
}

func (d *DrawingPayload) Bind(r *http.Request) error {
	if len(d.Elements) == 0 {
		return fmt.Errorf("drawing has no elements")
	}
	return nil
}

// DrawingHandler plans and enqueues a drawing, replying with how many
// operations were queued.
func DrawingHandler(w http.ResponseWriter, r *http.Request) {
	data := &DrawingPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	plan, err := comms.ToDrawingPlan(data.Elements)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	tickets, err := ENV.Controller.SubmitDrawing(plan)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	render.JSON(w, r, comms.Response{OK: true, Queued: len(tickets)})
}

func openDb(dbFile string) (db *storm.DB, err error) {
	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&User{}); err != nil {
		return nil, err
	}

	return
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}
