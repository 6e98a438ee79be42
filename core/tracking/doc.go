// Package tracking turns inbound driver events into delivery mutations and
// pushes the results to the channels of the parties involved.
//
// The channel set is computed per event from the delivery record
// (customer_<customerId>, store_<storeId>, driver_<driverId>) so no
// subscription table is kept besides the channel registry itself.
package tracking
