/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package localnet

import (
	"container/list"
)

// deliveryList is a FIFO of pending deliveries.
type deliveryList struct {
	list *list.List
}

// PushBack appends a delivery to the end of the list.
// Returns the list itself, for the convenience of chaining multiple calls to PushBack.
func (dl *deliveryList) PushBack(d *Delivery) *deliveryList {
	if dl.list == nil {
		dl.list = list.New()
	}
	dl.list.PushBack(d)
	return dl
}

// PopFront removes and returns the first delivery, or nil if the list is empty.
func (dl *deliveryList) PopFront() *Delivery {
	if dl.list == nil {
		return nil
	}
	front := dl.list.Front()
	if front == nil {
		return nil
	}
	return dl.list.Remove(front).(*Delivery)
}

func (dl *deliveryList) Len() int {
	if dl.list == nil {
		return 0
	}
	return dl.list.Len()
}

// Iterator returns an iterator over the deliveries, starting from the front.
func (dl *deliveryList) Iterator() *deliveryListIterator {
	if dl.list == nil {
		return &deliveryListIterator{}
	}
	return &deliveryListIterator{currentElement: dl.list.Front()}
}

type deliveryListIterator struct {
	currentElement *list.Element
}

// Next returns the next delivery, or nil once the list is exhausted.
func (it *deliveryListIterator) Next() *Delivery {
	if it.currentElement == nil {
		return nil
	}
	result := it.currentElement.Value.(*Delivery)
	it.currentElement = it.currentElement.Next()
	return result
}
