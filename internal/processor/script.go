package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/models"
)

var errNoTransformFunc = errors.New("script must evaluate to a function or declare a function named 'transform'")

// script is a compiled user transform. The program is shared; every call
// gets a fresh goja.Runtime since runtimes are not safe for concurrent use.
type script struct {
	path    string
	program *goja.Program
	nc      *nats.Conn
	logger  *logrus.Logger
}

func loadScript(path string, nc *nats.Conn, logger *logrus.Logger) (*script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
	}
	program, err := goja.Compile(path, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("invalid JavaScript script: %w", err)
	}

	s := &script{path: path, program: program, nc: nc, logger: logger}
	if _, _, err := s.prepare(); err != nil {
		return nil, fmt.Errorf("invalid JavaScript script: %w", err)
	}
	return s, nil
}

// prepare runs the program in a new runtime and resolves the transform
// function.
func (s *script) prepare() (*goja.Runtime, goja.Callable, error) {
	vm := goja.New()
	if err := s.bindConsole(vm); err != nil {
		return nil, nil, err
	}
	if s.nc != nil {
		if err := s.bindNATS(vm); err != nil {
			return nil, nil, err
		}
	}

	result, err := vm.RunProgram(s.program)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute script: %w", err)
	}
	if fn, ok := goja.AssertFunction(result); ok {
		return vm, fn, nil
	}
	if fn, ok := goja.AssertFunction(vm.Get("transform")); ok {
		return vm, fn, nil
	}
	return nil, nil, errNoTransformFunc
}

// call passes the event to the transform function as a plain JS object and
// returns the JSON of whatever it returns. A null or undefined result rejects
// the event.
func (s *script) call(event *models.ChangeEvent) ([]byte, error) {
	vm, fn, err := s.prepare()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not available")
	}
	obj, err := parse(goja.Undefined(), vm.ToValue(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := fn(goja.Undefined(), obj)
	if err != nil {
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, ErrEventRejected
	}

	out, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return out, nil
}

func (s *script) bindConsole(vm *goja.Runtime) error {
	console := vm.NewObject()
	levels := map[string]logrus.Level{
		"log":   logrus.InfoLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"debug": logrus.DebugLevel,
	}
	for name, level := range levels {
		err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			s.logger.WithField("script", s.path).Log(level, args...)
			return goja.Undefined()
		})
		if err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}
	return vm.Set("console", console)
}

// bindNATS exposes nats.publish(subject, data) and
// nats.kv.get/put/delete(bucket, key[, data]).
func (s *script) bindNATS(vm *goja.Runtime) error {
	payload := func(fn string, v goja.Value) []byte {
		if goja.IsUndefined(v) || goja.IsNull(v) {
			panic(vm.NewTypeError("%s: data is required", fn))
		}
		switch x := v.Export().(type) {
		case string:
			return []byte(x)
		case []byte:
			return x
		default:
			data, err := json.Marshal(x)
			if err != nil {
				panic(vm.NewTypeError("%s: failed to marshal data: %v", fn, err))
			}
			return data
		}
	}
	fail := func(fn string, err error) {
		s.logger.Errorf("%s failed: %v", fn, err)
		panic(vm.NewGoError(err))
	}
	bucket := func(fn string, call goja.FunctionCall) (nats.KeyValue, string) {
		name, key := call.Argument(0).String(), call.Argument(1).String()
		if name == "" || key == "" {
			panic(vm.NewTypeError("%s: bucket and key are required", fn))
		}
		js, err := s.nc.JetStream()
		if err != nil {
			fail(fn, fmt.Errorf("failed to get JetStream context: %w", err))
		}
		kv, err := js.KeyValue(name)
		if err != nil {
			fail(fn, fmt.Errorf("failed to get KV store '%s': %w", name, err))
		}
		return kv, key
	}

	kv := map[string]func(goja.FunctionCall) goja.Value{
		"get": func(call goja.FunctionCall) goja.Value {
			store, key := bucket("nats.kv.get", call)
			entry, err := store.Get(key)
			if errors.Is(err, nats.ErrKeyNotFound) {
				return goja.Null()
			}
			if err != nil {
				fail("nats.kv.get", err)
			}
			return vm.ToValue(string(entry.Value()))
		},
		"put": func(call goja.FunctionCall) goja.Value {
			store, key := bucket("nats.kv.put", call)
			if _, err := store.Put(key, payload("nats.kv.put", call.Argument(2))); err != nil {
				fail("nats.kv.put", err)
			}
			return goja.Undefined()
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			store, key := bucket("nats.kv.delete", call)
			if err := store.Delete(key); err != nil {
				fail("nats.kv.delete", err)
			}
			return goja.Undefined()
		},
	}

	kvObj := vm.NewObject()
	for name, fn := range kv {
		if err := kvObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set nats.kv.%s: %w", name, err)
		}
	}

	natsObj := vm.NewObject()
	err := natsObj.Set("publish", func(call goja.FunctionCall) goja.Value {
		subject := call.Argument(0).String()
		if subject == "" {
			panic(vm.NewTypeError("nats.publish: subject is required"))
		}
		if err := s.nc.Publish(subject, payload("nats.publish", call.Argument(1))); err != nil {
			fail("nats.publish", err)
		}
		return goja.Undefined()
	})
	if err != nil {
		return fmt.Errorf("failed to set nats.publish: %w", err)
	}
	if err := natsObj.Set("kv", kvObj); err != nil {
		return fmt.Errorf("failed to set nats.kv: %w", err)
	}
	return vm.Set("nats", natsObj)
}
