package rpccommon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"reflect"
	"runtime"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-delve/memview/pkg/logflags"
	"github.com/go-delve/memview/pkg/session"
	"github.com/go-delve/memview/pkg/version"
	"github.com/go-delve/memview/service"
	"github.com/go-delve/memview/service/api"
	"github.com/go-delve/memview/service/rpc2"
)

// ServerImpl implements a JSON-RPC server exposing one memory session.
type ServerImpl struct {
	// config is all the information necessary to start the session and server.
	config *service.Config
	// listener is used to serve JSON-RPC.
	listener net.Listener
	// stopChan is used to stop the listener goroutine.
	stopChan chan struct{}
	// s is the memory session shared by every connection.
	s *session.Session
	// s2 is APIv2 server.
	s2 *rpc2.RPCServer
	// maps of served methods.
	methodMaps map[string]*methodType
	log        logflags.Logger

	stopOnce sync.Once
}

// RPCServer implements the RPC method calls common to all versions of the API.
type RPCServer struct {
	s *ServerImpl
}

type methodType struct {
	method    reflect.Method
	Rcvr      reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// NewServer creates a new ServerImpl.
func NewServer(config *service.Config) *ServerImpl {
	logger := logflags.RPCLogger()
	if config.Listener != nil {
		logger.Debug("API server listening at: ", config.Listener.Addr())
	}
	return &ServerImpl{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		log:      logger,
	}
}

// Stop stops the JSON-RPC server and detaches the session.
func (s *ServerImpl) Stop() error {
	s.log.Debug("stopping")
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.config.AcceptMulti {
			s.listener.Close()
		}
	})
	if s.s != nil {
		s.s.Detach()
	}
	return nil
}

// Session returns the session served, nil before Run.
func (s *ServerImpl) Session() *session.Session {
	return s.s
}

// Run creates the session, attaches to AttachPid if it is set and starts
// serving the session. Run returns once the listener goroutine is started.
func (s *ServerImpl) Run() error {
	if s.config.OS == nil {
		return errors.New("no backend configured")
	}
	s.s = session.New(s.config.OS)
	if s.config.AttachPid != 0 {
		if err := s.s.Attach(s.config.AttachPid); err != nil {
			return err
		}
	}

	s.s2 = rpc2.NewServer(s.config, s.s)

	rpcServer := &RPCServer{s}

	s.methodMaps = map[string]*methodType{}
	suitableMethods(s.s2, s.methodMaps, s.log)
	suitableMethods(rpcServer, s.methodMaps, s.log)

	go func() {
		defer s.listener.Close()
		for {
			c, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.stopChan:
					// We were supposed to exit, do nothing and return
					return
				default:
					s.log.Errorf("accept: %v", err)
					return
				}
			}

			if s.config.CheckLocalConnUser {
				if !canAccept(s.listener.Addr(), c.RemoteAddr()) {
					c.Close()
					continue
				}
			}

			go s.serveJSONCodec(c)
			if !s.config.AcceptMulti {
				break
			}
		}
	}()
	return nil
}

// Precompute the reflect type for error.  Can't use error directly
// because Typeof takes an empty interface value.  This is annoying.
var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

// Is this an exported - upper case - name?
func isExported(name string) bool {
	ch, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(ch)
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type,
	// so we need to check the type name as well.
	return isExported(t.Name()) || t.PkgPath() == ""
}

// Fills methods map with the methods of receiver that should be made
// available through the RPC interface.
// These are all the public methods of rcvr that have the signature:
//  func (rcvr ReceiverType) Method(in InputType, out *ReplyType) error
func suitableMethods(rcvr interface{}, methods map[string]*methodType, log logflags.Logger) {
	typ := reflect.TypeOf(rcvr)
	rcvrv := reflect.ValueOf(rcvr)
	sname := reflect.Indirect(rcvrv).Type().Name()
	if sname == "" {
		log.Debugf("rpc.Register: no service name for type %s", typ)
		return
	}
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mname := method.Name
		mtype := method.Type
		// method must be exported
		if method.PkgPath != "" {
			continue
		}
		// Method needs three ins: (receiver, args, *reply)
		if mtype.NumIn() != 3 {
			log.Debugf("method %s has wrong number of ins: %d", mname, mtype.NumIn())
			continue
		}
		argType := mtype.In(1)
		if !isExportedOrBuiltinType(argType) {
			log.Debugf("%s argument type not exported: %v", mname, argType)
			continue
		}
		replyType := mtype.In(2)
		if replyType.Kind() != reflect.Ptr {
			log.Debugf("method %s reply type not a pointer: %v", mname, replyType)
			continue
		}
		if !isExportedOrBuiltinType(replyType) {
			log.Debugf("method %s reply type not exported: %v", mname, replyType)
			continue
		}
		if mtype.NumOut() != 1 {
			log.Debugf("method %s has wrong number of outs: %d", mname, mtype.NumOut())
			continue
		}
		if returnType := mtype.Out(0); returnType != typeOfError {
			log.Debugf("method %s returns %s not error", mname, returnType.String())
			continue
		}
		methods[sname+"."+mname] = &methodType{method: method, ArgType: argType, ReplyType: replyType, Rcvr: rcvrv}
	}
}

func (s *ServerImpl) serveJSONCodec(conn io.ReadWriteCloser) {
	defer func() {
		if !s.config.AcceptMulti && s.config.DisconnectChan != nil {
			close(s.config.DisconnectChan)
		}
	}()

	sending := new(sync.Mutex)
	codec := jsonrpc.NewServerCodec(conn)
	var req rpc.Request
	var resp rpc.Response
	for {
		req = rpc.Request{}
		err := codec.ReadRequestHeader(&req)
		if err != nil {
			if err != io.EOF {
				s.log.Error("rpc:", err)
			}
			break
		}

		mtype, ok := s.methodMaps[req.ServiceMethod]
		if !ok {
			s.log.Errorf("rpc: can't find method %s", req.ServiceMethod)
			// The body must be consumed before the next header can be read.
			codec.ReadRequestBody(nil)
			s.sendResponse(sending, &req, &rpc.Response{}, nil, codec, fmt.Sprintf("unknown method: %s", req.ServiceMethod))
			continue
		}

		var argv, replyv reflect.Value

		// Decode the argument value.
		argIsValue := false // if true, need to indirect before calling.
		if mtype.ArgType.Kind() == reflect.Ptr {
			argv = reflect.New(mtype.ArgType.Elem())
		} else {
			argv = reflect.New(mtype.ArgType)
			argIsValue = true
		}
		// argv guaranteed to be a pointer now.
		if err = codec.ReadRequestBody(argv.Interface()); err != nil {
			return
		}
		if argIsValue {
			argv = argv.Elem()
		}

		if logflags.RPC() {
			s.log.Debugf("<- %s(%T%+v)", req.ServiceMethod, argv.Interface(), argv.Interface())
		}
		replyv = reflect.New(mtype.ReplyType.Elem())
		function := mtype.method.Func
		var returnValues []reflect.Value
		var errInter interface{}
		func() {
			defer func() {
				if ierr := recover(); ierr != nil {
					errInter = newInternalError(ierr, 2)
				}
			}()
			returnValues = function.Call([]reflect.Value{mtype.Rcvr, argv, replyv})
			errInter = returnValues[0].Interface()
		}()

		errmsg := ""
		if errInter != nil {
			errmsg = errInter.(error).Error()
		}
		resp = rpc.Response{}
		if logflags.RPC() {
			s.log.Debugf("-> %T%+v error: %q", replyv.Interface(), replyv.Interface(), errmsg)
		}
		s.sendResponse(sending, &req, &resp, replyv.Interface(), codec, errmsg)
	}
	codec.Close()
}

// A value sent as a placeholder for the server's response value when the server
// receives an invalid request. It is never decoded by the client since the Response
// contains an error when it is used.
var invalidRequest = struct{}{}

func (s *ServerImpl) sendResponse(sending *sync.Mutex, req *rpc.Request, resp *rpc.Response, reply interface{}, codec rpc.ServerCodec, errmsg string) {
	resp.ServiceMethod = req.ServiceMethod
	if errmsg != "" {
		resp.Error = errmsg
		reply = invalidRequest
	}
	resp.Seq = req.Seq
	sending.Lock()
	defer sending.Unlock()
	err := codec.WriteResponse(resp, reply)
	if err != nil {
		s.log.Error("writing response:", err)
	}
}

// GetVersion returns the version of memview as well as the API version
// currently served.
func (s *RPCServer) GetVersion(args api.GetVersionIn, out *api.GetVersionOut) error {
	out.MemviewVersion = version.MemviewVersion.String()
	out.APIVersion = version.APIVersion
	if s.s.config.OS != nil {
		out.Backend = s.s.config.OS.Name()
	}
	return nil
}

type internalError struct {
	Err   interface{}
	Stack []string
}

func newInternalError(ierr interface{}, skip int) *internalError {
	r := &internalError{ierr, nil}
	for i := skip; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fname := "<unknown>"
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			fname = fn.Name()
		}
		r.Stack = append(r.Stack, fmt.Sprintf("%s\n\t%s:%d", fname, file, line))
	}
	return r
}

func (err *internalError) Error() string {
	var out bytes.Buffer
	fmt.Fprintf(&out, "Internal error: %v\n", err.Err)
	for _, frame := range err.Stack {
		fmt.Fprintf(&out, "%s\n", frame)
	}
	return out.String()
}
