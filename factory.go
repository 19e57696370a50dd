package rq

import "github.com/DoNewsCode/core/di"

// BusFactory is a factory for *Bus. Note BusFactory doesn't contain the factory method
// itself. ie. How to factory a bus left there for users to define. Users then can use this type to create
// their own bus implementation.
//
// Here is an example on how to create a custom BusFactory with an InProcessDriver.
//
//		driver := rq.NewInProcessDriver()
//		factory := di.NewFactory(func(name string) (di.Pair, error) {
//			bus := rq.NewBus(rq.NewQueue(driver, "app", name))
//			return di.Pair{Conn: bus}, nil
//		})
//		busFactory := rq.BusFactory{Factory: factory}
//
type BusFactory struct {
	*di.Factory
}

// Make returns a Bus by the given name. If it has already been created under the same name,
// the that one will be returned.
func (s BusFactory) Make(name string) (*Bus, error) {
	client, err := s.Factory.Make(name)
	if err != nil {
		return nil, err
	}
	return client.(*Bus), nil
}

// BusMaker is the key of *BusFactory in the dependencies graph. Used as a type hint for injection.
type BusMaker interface {
	Make(string) (*Bus, error)
}
